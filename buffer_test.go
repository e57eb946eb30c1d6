package pipedispatch

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecvBuffer(t *testing.T) {
	t.Run("allocates at least the minimum, page rounded", func(t *testing.T) {
		b, err := newRecvBuffer(1, zap.NewNop())
		require.NoError(t, err)
		defer b.release()

		assert.GreaterOrEqual(t, b.size(), MinBufferSize)
		assert.Zero(t, b.size()%os.Getpagesize())
	})

	t.Run("ensure keeps the buffer when large enough", func(t *testing.T) {
		b, err := newRecvBuffer(MinBufferSize, zap.NewNop())
		require.NoError(t, err)
		defer b.release()

		before := b.size()
		got, err := b.ensure(128)
		require.NoError(t, err)
		assert.Len(t, got, before)
	})

	t.Run("ensure grows to whole pages", func(t *testing.T) {
		b, err := newRecvBuffer(MinBufferSize, zap.NewNop())
		require.NoError(t, err)
		defer b.release()

		want := b.size() + 1
		got, err := b.ensure(want)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(got), want)
		assert.Zero(t, len(got)%os.Getpagesize())

		// The new region must be writable end to end.
		got[0], got[len(got)-1] = 1, 1
	})

	t.Run("ensure keeps the new region when the old cannot be freed", func(t *testing.T) {
		obs, logs := observer.New(zapcore.WarnLevel)
		b, err := newRecvBuffer(MinBufferSize, zap.New(obs))
		require.NoError(t, err)
		defer b.release()

		free := b.free
		b.free = func([]byte) error { return errors.New("munmap failed") }
		want := b.size() + 1
		got, err := b.ensure(want)
		b.free = free

		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(got), want)
		assert.Equal(t, len(got), b.size())
		assert.Equal(t, 1, logs.FilterMessage("cannot release outgrown receive buffer").Len())
	})

	t.Run("release is idempotent", func(t *testing.T) {
		b, err := newRecvBuffer(MinBufferSize, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, b.release())
		require.NoError(t, b.release())
		assert.Zero(t, b.size())
	})
}

func TestRoundPages(t *testing.T) {
	ps := os.Getpagesize()
	assert.Equal(t, ps, roundPages(1))
	assert.Equal(t, ps, roundPages(ps))
	assert.Equal(t, 2*ps, roundPages(ps+1))
	assert.Equal(t, 0, roundPages(0))
}
