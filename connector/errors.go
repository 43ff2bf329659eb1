package connector

import "fmt"

// ValidationError reports that a connector refused a message or its own
// configuration before attempting delivery.
type ValidationError struct {
	Connector string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("connector %q validation failed: %v", e.Connector, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DeliveryError reports that a connector failed while delivering a message.
type DeliveryError struct {
	Connector string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("connector %q delivery failed: %v", e.Connector, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
