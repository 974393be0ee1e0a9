package pltx

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// fileHandle serializes physical reads against one open descriptor.
// Cursors running on different goroutines share it; the mutex guarantees
// that no read observes bytes from another caller's range. Ownership is
// reference counted: the reader holds one reference, every live cursor
// holds one, and the descriptor is closed when the count reaches zero.
type fileHandle struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	refs    atomic.Int64
	limiter *rate.Limiter // nil when IO is unthrottled
}

func openFileHandle(path string, limiter *rate.Limiter) (*fileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	h := &fileHandle{f: f, size: st.Size(), limiter: limiter}
	h.refs.Store(1)
	return h, nil
}

// readRange reads exactly length bytes at off. The critical section
// covers the whole read, so concurrent cursors interleave only between
// calls, never within one.
func (h *fileHandle) readRange(ctx context.Context, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 || off+length > h.size {
		return nil, fmt.Errorf("read [%d,%d) outside file of %d bytes", off, off+length, h.size)
	}
	if h.limiter != nil {
		if err := h.limiter.WaitN(ctx, int(length)); err != nil {
			return nil, err
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, length)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil, ErrHandleClosed
	}
	if _, err := h.f.ReadAt(buf, off); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func (h *fileHandle) retain() {
	h.refs.Add(1)
}

func (h *fileHandle) release() error {
	if h.refs.Add(-1) > 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}
