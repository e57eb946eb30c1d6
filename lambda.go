package pipedispatch

import (
	"context"
	"encoding"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Event is implemented by payload structures that know their own event type
// id. The method must work on the zero value:
//
//	type PersonaStateChange struct {
//	    SteamID     uint64
//	    ChangeFlags int32
//	}
//
//	func (PersonaStateChange) EventType() int32 { return 304 }
type Event interface {
	EventType() int32
}

// Decoder fills dst, a pointer to the handler's payload type, from the raw
// payload bytes.
type Decoder func(payload []byte, dst any) error

// DecodeBinary is the default Decoder. It uses dst's UnmarshalBinary method
// when available, and otherwise reads a fixed-size little-endian structure
// with encoding/binary. Trailing bytes beyond the structure are ignored; use
// blank fields (_ [4]byte) to skip native alignment padding.
func DecodeBinary(payload []byte, dst any) error {
	if u, ok := dst.(encoding.BinaryUnmarshaler); ok {
		return u.UnmarshalBinary(payload)
	}
	if _, err := binary.Decode(payload, binary.LittleEndian, dst); err != nil {
		return fmt.Errorf("binary: %w", err)
	}
	return nil
}

// DecodeJSON decodes a JSON payload.
func DecodeJSON(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// validatable is implemented by payloads that check themselves after
// decoding. Compatible with github.com/go-ozzo/ozzo-validation/v4.
type validatable interface {
	Validate() error
}

// LambdaFunc is the closure wrapped by a Lambda.
type LambdaFunc[T any] func(ctx context.Context, event *T, ioFailed bool) error

// LambdaOption configures a Lambda.
type LambdaOption func(*lambdaConfig)

type lambdaConfig struct {
	decode Decoder
}

// WithDecoder replaces DecodeBinary as the payload decoder.
func WithDecoder(d Decoder) LambdaOption {
	return func(c *lambdaConfig) {
		if d != nil {
			c.decode = d
		}
	}
}

// Lambda is a Handler that decodes the payload into a T and hands it to a
// closure. Its event type is T's.
//
// A Lambda must not be copied; always use the pointer returned by NewLambda
// or NewCallback, which is also what the dispatcher uses as its identity.
type Lambda[T Event] struct {
	_ noCopy
	Record
	fn     LambdaFunc[T]
	decode Decoder
}

// NewLambda returns a Handler for call results of type T produced by call.
//
//	h := pipedispatch.NewLambda(call, func(ctx context.Context, r *LeaderboardFindResult, ioFailed bool) error {
//	    if ioFailed {
//	        return errors.New("leaderboard lookup failed")
//	    }
//	    board = r.Leaderboard
//	    return nil
//	})
//	d.RegisterCallResult(h)
func NewLambda[T Event](call CallHandle, fn LambdaFunc[T], opts ...LambdaOption) *Lambda[T] {
	var zero T
	cfg := lambdaConfig{decode: DecodeBinary}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Lambda[T]{
		Record: NewRecord(zero.EventType(), call),
		fn:     fn,
		decode: cfg.decode,
	}
}

// NewCallback returns a Handler for broadcast messages of type T.
func NewCallback[T Event](fn func(ctx context.Context, event *T) error, opts ...LambdaOption) *Lambda[T] {
	return NewLambda(InvalidCall, func(ctx context.Context, event *T, _ bool) error {
		return fn(ctx, event)
	}, opts...)
}

// Invoke implements Handler. The decoded event is validated when it (or a
// pointer to it) has a Validate method.
//
// When ioFailed is set the payload is not trustworthy: decoding is best
// effort, validation is skipped and the closure may see a zero or partially
// filled event.
func (l *Lambda[T]) Invoke(ctx context.Context, payload []byte, ioFailed bool) error {
	var event T
	if err := l.decode(payload, &event); err != nil && !ioFailed {
		return &PayloadError{Stage: "decode", Err: err}
	}
	if !ioFailed {
		if err := validate(&event); err != nil {
			return &PayloadError{Stage: "validate", Err: err}
		}
	}
	return l.fn(ctx, &event, ioFailed)
}

func validate[T any](event *T) error {
	if v, ok := any(*event).(validatable); ok {
		return v.Validate()
	}
	if v, ok := any(event).(validatable); ok {
		return v.Validate()
	}
	return nil
}
