package pipedispatch

import (
	"encoding/binary"
	"fmt"
)

// CallHandle identifies an asynchronous call issued against the external
// service. The service reports its completion through a CallCompleted
// message carrying the same handle.
type CallHandle uint64

// InvalidCall is the zero handle. Handlers registered only as broadcast
// callbacks carry it.
const InvalidCall CallHandle = 0

// CallCompletedType is the reserved message type id the external service
// uses to announce that an asynchronous call has a result ready.
const CallCompletedType int32 = 703

// callCompletedSize is the wire size of a CallCompleted descriptor.
const callCompletedSize = 16

// Pipe is the surface the external service must offer. The dispatcher never
// owns the service connection; it only pumps and drains it.
//
// Implementations are called from a single goroutine at a time: the one
// running the drive loop.
type Pipe interface {
	// InitManualDispatch enables manual dispatch. It is called once, when a
	// dispatcher is constructed, and must come after the service's own
	// initialization.
	InitManualDispatch()

	// RunFrame performs the service's periodic work. It is called once per
	// outer loop pass.
	RunFrame()

	// NextMessage returns the next pending message, if any. The payload is
	// only valid until FreeLastMessage is called.
	NextMessage() (Message, bool)

	// FreeLastMessage releases the message returned by the last successful
	// NextMessage. It must be called before NextMessage is called again.
	FreeLastMessage()

	// CallResult copies the result of call into dst. The service verifies the
	// result type against expectedType. ok reports whether a result was
	// copied; ioFailed reports a transport-level failure of the call itself.
	CallResult(call CallHandle, dst []byte, expectedType int32) (ok, ioFailed bool)
}

// Message is one entry fetched from the pipe.
type Message struct {
	// User is the service-side user the message applies to.
	User int32

	// Type is the message's event type id.
	Type int32

	// Payload points to the raw event structure.
	Payload []byte
}

// CallCompleted is the payload of a CallCompletedType message.
//
// Layout, little-endian: call handle (8 bytes), original event type
// (4 bytes), result size (4 bytes).
type CallCompleted struct {
	Call      CallHandle
	EventType int32
	Size      uint32
}

// ParseCallCompleted decodes a CallCompleted descriptor from a message
// payload.
func ParseCallCompleted(b []byte) (CallCompleted, error) {
	if len(b) < callCompletedSize {
		return CallCompleted{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortDescriptor, len(b), callCompletedSize)
	}
	return CallCompleted{
		Call:      CallHandle(binary.LittleEndian.Uint64(b[0:8])),
		EventType: int32(binary.LittleEndian.Uint32(b[8:12])),
		Size:      binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// AppendBinary appends the wire form of c to b.
func (c CallCompleted) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, uint64(c.Call))
	b = binary.LittleEndian.AppendUint32(b, uint32(c.EventType))
	b = binary.LittleEndian.AppendUint32(b, c.Size)
	return b, nil
}

// MarshalBinary returns the wire form of c.
func (c CallCompleted) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, callCompletedSize))
}
