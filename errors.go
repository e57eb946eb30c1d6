package pipedispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipedispatch package.
var (
	// ErrAlloc is returned when the receive buffer cannot be allocated.
	ErrAlloc = errors.New("receive buffer allocation failed")

	// ErrClosed is returned when a closed dispatcher is asked to run.
	ErrClosed = errors.New("dispatcher is closed")

	// ErrShortDescriptor is reported when a call-completed message carries
	// fewer bytes than a descriptor needs.
	ErrShortDescriptor = errors.New("short call-completed descriptor")

	// ErrInvalidHandler is reported when a registration is refused because
	// the handler is nil or its dynamic type cannot be compared by identity.
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrResultTooLarge is reported when a call-completed descriptor
	// announces a result above the configured limit.
	ErrResultTooLarge = errors.New("call result too large")
)

// HandlerError is passed to the error handler when a registered handler
// fails during dispatch.
type HandlerError struct {
	Delivery Delivery
	Err      error
}

func (e *HandlerError) Error() string {
	if e.Delivery.Kind == KindCallResult {
		return fmt.Sprintf("%s handler for type %d (call %d): %v", e.Delivery.Kind, e.Delivery.EventType, e.Delivery.Call, e.Err)
	}
	return fmt.Sprintf("%s handler for type %d: %v", e.Delivery.Kind, e.Delivery.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panicked: %v", e.Value) }

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// PayloadError is returned by a Lambda whose payload could not be decoded or
// failed validation. The handler's closure did not run.
type PayloadError struct {
	// Stage is "decode" or "validate".
	Stage string
	Err   error
}

func (e *PayloadError) Error() string { return fmt.Sprintf("%s payload: %v", e.Stage, e.Err) }

func (e *PayloadError) Unwrap() error { return e.Err }
