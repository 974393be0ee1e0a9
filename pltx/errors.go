package pltx

import (
	"errors"
	"fmt"
)

var (
	// ErrBadHeader indicates a malformed file header.
	ErrBadHeader = errors.New("pltx: bad header")

	// ErrBadIndex indicates a malformed or out-of-bounds index region.
	// Partial or corrupt indexes are never partially trusted; the whole
	// file is rejected.
	ErrBadIndex = errors.New("pltx: bad index")

	// ErrUnsupportedVersion is returned for container versions this
	// implementation does not understand.
	ErrUnsupportedVersion = errors.New("pltx: unsupported version")

	// ErrUnsupportedCompression is returned for unknown compression codes.
	ErrUnsupportedCompression = errors.New("pltx: unsupported compression")

	// ErrUnknownSignal is returned by OpenCursor for a name that is not
	// in the file's index.
	ErrUnknownSignal = errors.New("pltx: unknown signal")

	// ErrHandleClosed is returned when reading through a file handle
	// whose last reference has been released.
	ErrHandleClosed = errors.New("pltx: file handle closed")
)

// DecodeError describes a chunk that could not be decoded: a corrupt or
// truncated payload, a decompression failure, or a sample-count
// mismatch. It is fatal to the cursor that hit it and to nothing else.
//
// The underlying cause can be accessed via errors.Unwrap.
type DecodeError struct {
	Signal string
	Chunk  int // position in the signal's chunk list
	cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pltx: decode chunk %d of signal %q: %v", e.Chunk, e.Signal, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }
