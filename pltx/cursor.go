package pltx

import (
	"context"
)

// Cursor is a single consumer's forward-only position within one
// signal's chunk list. It decodes lazily: at most one chunk's samples
// are buffered at a time, bounding memory use independent of signal
// length.
//
// Usage follows the scanner idiom:
//
//	cur, err := r.OpenCursor(ctx, "Voltage")
//	...
//	defer cur.Close()
//	for cur.Next() {
//	    s := cur.Sample() // seq available via cur.Seq()
//	}
//	if err := cur.Err(); err != nil {
//	    // terminal decode or I/O failure, not a normal end
//	}
//
// A Cursor is not safe for concurrent use and is never shared across
// connections. Both end-of-signal and error are terminal: once Next
// returns false it returns false forever.
type Cursor struct {
	ctx    context.Context
	handle *fileHandle
	signal string
	chunks []ChunkDescriptor

	chunkIdx int
	buf      []Sample
	bufPos   int

	cur    Sample
	curSeq uint64
	next   uint64
	err    error
	done   bool
	closed bool
}

// Next advances to the next sample. It returns false when the signal is
// exhausted or a terminal error occurred; the two are told apart via
// Err. Next may block while a chunk is read through the shared file
// handle; that is the cursor's only suspension point.
func (c *Cursor) Next() bool {
	if c.done || c.closed {
		return false
	}

	for c.bufPos >= len(c.buf) {
		if c.chunkIdx >= len(c.chunks) {
			c.done = true
			return false
		}
		if err := c.loadChunk(c.chunkIdx); err != nil {
			c.err = err
			c.done = true
			return false
		}
		c.chunkIdx++
	}

	c.cur = c.buf[c.bufPos]
	c.bufPos++
	c.curSeq = c.next
	c.next++
	return true
}

// loadChunk reads and decodes one chunk, replacing the sample buffer.
func (c *Cursor) loadChunk(i int) error {
	desc := c.chunks[i]
	raw, err := c.handle.readRange(c.ctx, desc.Offset, desc.Length)
	if err != nil {
		return &DecodeError{Signal: c.signal, Chunk: i, cause: err}
	}
	samples, err := DecodeChunk(raw, desc)
	if err != nil {
		return &DecodeError{Signal: c.signal, Chunk: i, cause: err}
	}
	c.buf = samples
	c.bufPos = 0
	return nil
}

// Sample returns the sample produced by the last successful Next.
func (c *Cursor) Sample() Sample { return c.cur }

// Seq returns the sequence number of the sample produced by the last
// successful Next. Sequence numbers start at 0 and increment by one per
// sample, independent of timestamp values.
func (c *Cursor) Seq() uint64 { return c.curSeq }

// Count returns the number of samples produced so far, which is also the
// sequence number the next sample would carry.
func (c *Cursor) Count() uint64 { return c.next }

// Err returns the terminal error, or nil if the cursor ended normally
// (or has not ended yet). A non-nil Err means the stream must not be
// reported as successfully completed.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor's reference on the shared file handle.
// Closing is idempotent and safe at any point; no shared state needs
// unwinding.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.done = true
	c.buf = nil
	return c.handle.release()
}
