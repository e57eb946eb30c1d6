package pipedispatch

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// MinBufferSize is the smallest receive buffer a dispatcher allocates.
const MinBufferSize = 16 << 10

// DefaultMaxResultSize is the largest call result a dispatcher fetches
// unless WithMaxResultSize says otherwise.
const DefaultMaxResultSize = 64 << 20

// recvBuffer is the page-aligned region call results are resolved into. Only
// the drive loop writes to it.
type recvBuffer struct {
	b    []byte
	log  *zap.Logger
	free func([]byte) error
}

func newRecvBuffer(size int, log *zap.Logger) (*recvBuffer, error) {
	b, err := allocPages(roundPages(max(size, MinBufferSize)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	return &recvBuffer{b: b, log: log, free: freePages}, nil
}

// ensure returns a buffer of at least n bytes, replacing the current one with
// a larger allocation when needed. Failing to free the old region is logged;
// the new one is still returned.
func (r *recvBuffer) ensure(n int) ([]byte, error) {
	if n <= len(r.b) {
		return r.b, nil
	}
	b, err := allocPages(roundPages(n))
	if err != nil {
		return nil, fmt.Errorf("%w: grow to %d bytes: %w", ErrAlloc, n, err)
	}
	old := r.b
	r.b = b
	if err := r.free(old); err != nil {
		r.log.Warn("cannot release outgrown receive buffer", zap.Int("size", len(old)), zap.Error(err))
	}
	return r.b, nil
}

func (r *recvBuffer) size() int { return len(r.b) }

func (r *recvBuffer) release() error {
	if r.b == nil {
		return nil
	}
	b := r.b
	r.b = nil
	return r.free(b)
}

func roundPages(n int) int {
	ps := os.Getpagesize()
	return (n + ps - 1) / ps * ps
}
