package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/google/uuid"
)

// Decode parses a raw RFC 5322 message received over SMTP. Transfer encodings
// are undone and the body is converted to UTF-8 where the charset is known.
// For multipart messages the first inline text/plain part becomes the content,
// falling back to the first inline text/html part.
func Decode(raw []byte, env Envelope) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &Message{
		ID:         uuid.NewString(),
		Headers:    copyHeader(entity.Header),
		Envelope:   env,
		Raw:        raw,
		ReceivedAt: time.Now(),
	}
	if err != nil {
		msg.Warnings = append(msg.Warnings, "body left as-is: "+err.Error())
	}

	content, contentType, err := selectBody(entity, &msg.Warnings)
	if err != nil {
		return nil, err
	}
	msg.Content = content
	msg.ContentType = contentType

	return msg, nil
}

// copyHeader flattens a go-message header into a Header, decoding RFC 2047
// encoded words where possible.
func copyHeader(h message.Header) Header {
	out := make(Header)
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out.Add(fields.Key(), value)
	}
	return out
}

// selectBody returns the content and media type to render for an entity.
// Parts decoded with problems are noted in warnings.
func selectBody(e *message.Entity, warnings *[]string) (string, string, error) {
	mediaType := mediaTypeOf(e.Header)

	mr := e.MultipartReader()
	if mr == nil {
		body, err := io.ReadAll(e.Body)
		if err != nil {
			return "", "", fmt.Errorf("failed to read message body: %w", err)
		}
		return string(body), mediaType, nil
	}

	var plain, html *string
	if err := walkParts(mr, &plain, &html, warnings); err != nil {
		return "", "", fmt.Errorf("failed to read multipart body: %w", err)
	}

	switch {
	case plain != nil:
		return *plain, "text/plain", nil
	case html != nil:
		return *html, "text/html", nil
	default:
		return "", mediaType, nil
	}
}

// walkParts records the first inline text/plain and text/html bodies found,
// descending into nested multiparts.
func walkParts(mr message.MultipartReader, plain, html **string, warnings *[]string) error {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return err
		}
		if err != nil {
			*warnings = append(*warnings, "part left as-is: "+err.Error())
		}

		if nested := part.MultipartReader(); nested != nil {
			if err := walkParts(nested, plain, html, warnings); err != nil {
				return err
			}
			continue
		}

		if disp, _, _ := part.Header.ContentDisposition(); disp == "attachment" {
			continue
		}

		var target **string
		switch mediaTypeOf(part.Header) {
		case "text/plain", "":
			target = plain
		case "text/html":
			target = html
		default:
			continue
		}
		if *target != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return err
		}
		s := string(body)
		*target = &s
	}
}

// mediaTypeOf returns the lower-cased media type of a header, or "" when
// Content-Type is missing or malformed.
func mediaTypeOf(h message.Header) string {
	if !h.Has("Content-Type") {
		return ""
	}
	t, _, err := h.ContentType()
	if err != nil {
		return ""
	}
	return strings.ToLower(t)
}
