//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package pipedispatch

// Platforms without a page allocator binding fall back to the Go heap.
func allocPages(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func freePages([]byte) error { return nil }
