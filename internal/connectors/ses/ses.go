// Package ses implements a connector that forwards messages through AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
)

// Plugin is the built-in "ses" connector.
var Plugin = &connector.Plugin{
	Name: "ses",
	New:  func() connector.Connector { return &Connector{newClient: newSESClient} },
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Connector submits the raw message to SES with the envelope recipients as
// destinations. The SDK's own retryer handles throttling.
type Connector struct {
	newClient func(ctx context.Context, s *settings) (SendEmailAPI, error)
}

// NewWithClient creates a Connector that always uses client, used for testing.
func NewWithClient(client SendEmailAPI) *Connector {
	return &Connector{newClient: func(context.Context, *settings) (SendEmailAPI, error) {
		return client, nil
	}}
}

type settings struct {
	region          string
	sender          string
	accessKeyID     string
	secretAccessKey string
}

func parseSettings(cfg connector.Config) (*settings, error) {
	s := &settings{}
	var err error

	if s.region, err = cfg.RequireString("region"); err != nil {
		return nil, err
	}
	if s.region == "" {
		return nil, fmt.Errorf("config value %q must not be empty", "region")
	}
	if s.sender, _, err = cfg.String("sender"); err != nil {
		return nil, err
	}
	if s.accessKeyID, _, err = cfg.String("access_key_id"); err != nil {
		return nil, err
	}
	if s.secretAccessKey, _, err = cfg.String("secret_access_key"); err != nil {
		return nil, err
	}
	if (s.accessKeyID == "") != (s.secretAccessKey == "") {
		return nil, fmt.Errorf("config values %q and %q must be set together", "access_key_id", "secret_access_key")
	}
	return s, nil
}

func (c *Connector) Validate(msg *email.Message, cfg connector.Config) error {
	if _, err := parseSettings(cfg); err != nil {
		return err
	}
	if len(msg.Envelope.To) == 0 {
		return fmt.Errorf("message has no envelope recipients")
	}
	return nil
}

// Execute sends msg.Raw as an SES raw message.
func (c *Connector) Execute(ctx context.Context, msg *email.Message, _ string, cfg connector.Config, log *slog.Logger) error {
	s, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	client, err := c.newClient(ctx, s)
	if err != nil {
		return err
	}

	out, err := client.SendEmail(ctx, buildInput(s, msg))
	if err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}

	log.Debug("message forwarded to SES", "region", s.region, "ses_message_id", aws.ToString(out.MessageId))
	return nil
}

// buildInput creates the SendEmailInput for a raw message.
func buildInput(s *settings, msg *email.Message) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: msg.Envelope.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Raw,
			},
		},
	}

	sender := s.sender
	if sender == "" {
		sender = msg.Envelope.From
	}
	if sender != "" {
		input.FromEmailAddress = aws.String(sender)
	}

	return input
}

func newSESClient(ctx context.Context, s *settings) (SendEmailAPI, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.region)}

	if s.accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKeyID, s.secretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}
