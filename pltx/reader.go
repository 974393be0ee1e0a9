package pltx

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/time/rate"
)

// Options configures a Reader.
type Options struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// IOLimitBytesPerSec throttles physical reads through the shared
	// file handle. 0 means unlimited.
	IOLimitBytesPerSec int
}

// Reader provides shared, concurrent read access to one opened PLTX
// file. The header and index are parsed once at Open and are immutable
// afterwards; chunk payloads are only read lazily by cursors.
//
// A Reader is safe for concurrent use. Every connection streaming a
// signal of this file shares the same Reader.
type Reader struct {
	path   string
	header FileHeader
	handle *fileHandle
	index  *signalIndex
	logger *slog.Logger
}

// Open opens a PLTX file and builds its in-memory signal index.
//
// Failure modes map onto the error taxonomy: a missing or unreadable
// file surfaces the os error (errors.Is(err, os.ErrNotExist) works), a
// malformed header wraps ErrBadHeader or ErrUnsupportedVersion, and a
// malformed or out-of-bounds index wraps ErrBadIndex.
func Open(path string, optFns ...func(o *Options)) (*Reader, error) {
	opts := Options{Logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}

	var limiter *rate.Limiter
	if opts.IOLimitBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.IOLimitBytesPerSec), opts.IOLimitBytesPerSec)
	}

	handle, err := openFileHandle(path, limiter)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	header, index, err := buildIndex(context.Background(), handle)
	if err != nil {
		_ = handle.release()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := &Reader{
		path:   path,
		header: header,
		handle: handle,
		index:  index,
		logger: opts.Logger,
	}
	r.logger.Debug("pltx file opened",
		"path", path,
		"version", header.Version,
		"compression", header.Compression.String(),
		"signals", len(index.order),
	)
	return r, nil
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string { return r.path }

// Name returns the file's display name (the path's base).
func (r *Reader) Name() string { return filepath.Base(r.path) }

// Header returns the parsed file header.
func (r *Reader) Header() FileHeader { return r.header }

// Size returns the file size in bytes.
func (r *Reader) Size() int64 { return r.handle.size }

// ListSignals returns the metadata of every signal in index order. The
// order is stable for the life of the reader. The returned slice is a
// copy; the index itself is immutable.
func (r *Reader) ListSignals() []SignalMetadata {
	out := make([]SignalMetadata, 0, len(r.index.order))
	for _, name := range r.index.order {
		out = append(out, r.index.byName[name].meta)
	}
	return out
}

// SignalMetadata returns the metadata of one signal by its in-file name.
func (r *Reader) SignalMetadata(name string) (SignalMetadata, bool) {
	e, ok := r.index.byName[name]
	if !ok {
		return SignalMetadata{}, false
	}
	return e.meta, true
}

// OpenCursor opens a forward-only cursor over one signal's samples. The
// name is the signal's in-file name; unknown names return
// ErrUnknownSignal. No I/O happens until the first Next call.
//
// ctx bounds the cursor's chunk reads: canceling it makes subsequent
// Next calls fail. The cursor holds a reference on the shared file
// handle until Close.
func (r *Reader) OpenCursor(ctx context.Context, name string) (*Cursor, error) {
	e, ok := r.index.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	r.handle.retain()
	return &Cursor{
		ctx:    ctx,
		handle: r.handle,
		signal: name,
		chunks: e.chunks,
	}, nil
}

// Close releases the reader's reference on the underlying file. The
// file descriptor stays open until the last cursor is closed as well.
func (r *Reader) Close() error {
	return r.handle.release()
}
