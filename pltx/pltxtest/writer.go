// Package pltxtest builds PLTX files for tests. It is not a general
// write path; production code treats PLTX as read-only input.
package pltxtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/plotune/pltxd/pltx"
)

// Signal describes one signal to register with a Writer.
type Signal struct {
	Name        string
	Unit        string
	Description string
	Source      string
}

// Options configures a Writer.
type Options struct {
	// Compression is the file-level codec applied to every chunk.
	Compression pltx.Compression

	// ChunkRecords is the number of records per chunk before a buffer
	// is cut into a chunk block. Defaults to 2048.
	ChunkRecords int

	// Created is the header creation timestamp (unix seconds).
	Created float64
}

// Writer assembles a PLTX v2 file in memory: header, chunk blocks in
// flush order, index, footer.
type Writer struct {
	opts    Options
	order   []uint32
	signals map[uint32]*signalBuf
	byName  map[string]uint32
	nextSID uint32
	chunks  []chunkBuf
}

type signalBuf struct {
	meta Signal
	buf  []pltx.Sample
}

type chunkBuf struct {
	sid     uint32
	samples []pltx.Sample
}

// NewWriter creates a Writer.
func NewWriter(optFns ...func(o *Options)) *Writer {
	opts := Options{ChunkRecords: 2048}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Writer{
		opts:    opts,
		signals: make(map[uint32]*signalBuf),
		byName:  make(map[string]uint32),
		nextSID: 1,
	}
}

// AddSignal registers a signal and returns its id. Registering the same
// name twice returns the existing id.
func (w *Writer) AddSignal(meta Signal) uint32 {
	if sid, ok := w.byName[meta.Name]; ok {
		return sid
	}
	sid := w.nextSID
	w.nextSID++
	w.byName[meta.Name] = sid
	w.signals[sid] = &signalBuf{meta: meta}
	w.order = append(w.order, sid)
	return sid
}

// Append buffers samples for a signal, cutting chunks whenever the
// buffer reaches ChunkRecords. Unknown names are registered on the fly.
func (w *Writer) Append(name string, samples ...pltx.Sample) {
	sid, ok := w.byName[name]
	if !ok {
		sid = w.AddSignal(Signal{Name: name})
	}
	s := w.signals[sid]
	s.buf = append(s.buf, samples...)
	for len(s.buf) >= w.opts.ChunkRecords {
		w.chunks = append(w.chunks, chunkBuf{sid: sid, samples: s.buf[:w.opts.ChunkRecords]})
		s.buf = s.buf[w.opts.ChunkRecords:]
	}
}

// Flush cuts the remaining buffered samples of every signal into chunks,
// in registration order.
func (w *Writer) Flush() {
	for _, sid := range w.order {
		s := w.signals[sid]
		if len(s.buf) > 0 {
			w.chunks = append(w.chunks, chunkBuf{sid: sid, samples: s.buf})
			s.buf = nil
		}
	}
}

// Bytes flushes and assembles the complete file.
func (w *Writer) Bytes() ([]byte, error) {
	w.Flush()

	var out bytes.Buffer

	// Header prefix plus signal table, sorted by id.
	out.WriteString("PLTX")
	out.WriteByte(pltx.Version)
	out.WriteByte(byte(w.opts.Compression))
	writeF64(&out, w.opts.Created)
	writeU16(&out, uint16(len(w.order)))
	for _, sid := range w.order {
		s := w.signals[sid]
		writeU32(&out, sid)
		writeStr(&out, s.meta.Name)
		writeStr(&out, s.meta.Unit)
		writeStr(&out, s.meta.Description)
		writeStr(&out, s.meta.Source)
	}

	// Chunk blocks, recording index entries as they land.
	type entry struct {
		sid    uint32
		offset uint64
		minTS  float64
		maxTS  float64
	}
	entries := make([]entry, 0, len(w.chunks))
	for _, c := range w.chunks {
		raw := make([]byte, 0, len(c.samples)*16)
		minTS, maxTS := math.Inf(1), math.Inf(-1)
		for _, s := range c.samples {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(s.Timestamp))
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(s.Value))
			minTS = math.Min(minTS, s.Timestamp)
			maxTS = math.Max(maxTS, s.Timestamp)
		}
		payload, err := compress(raw, w.opts.Compression)
		if err != nil {
			return nil, fmt.Errorf("compress chunk for signal id %d: %w", c.sid, err)
		}

		entries = append(entries, entry{sid: c.sid, offset: uint64(out.Len()), minTS: minTS, maxTS: maxTS})
		out.WriteString("CHNK")
		writeU32(&out, c.sid)
		writeU32(&out, uint32(len(c.samples)))
		writeU32(&out, uint32(len(raw)))
		writeU32(&out, uint32(len(payload)))
		writeF64(&out, minTS)
		writeF64(&out, maxTS)
		out.Write(payload)
	}

	indexOff := uint64(out.Len())
	out.WriteString("IDXT")
	writeU32(&out, uint32(len(entries)))
	for _, e := range entries {
		writeU32(&out, e.sid)
		writeU64(&out, e.offset)
		writeF64(&out, e.minTS)
		writeF64(&out, e.maxTS)
	}

	out.WriteString("FTER")
	writeU64(&out, indexOff)

	return out.Bytes(), nil
}

// WriteFile flushes and writes the file to path.
func (w *Writer) WriteFile(path string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func compress(raw []byte, comp pltx.Compression) ([]byte, error) {
	switch comp {
	case pltx.CompressionNone:
		return raw, nil
	case pltx.CompressionZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case pltx.CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible data cannot be represented as an LZ4 block
			// in this container; use compressible fixture data instead.
			return nil, fmt.Errorf("lz4: incompressible payload of %d bytes", len(raw))
		}
		return dst[:n], nil
	case pltx.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression code %d", uint8(comp))
	}
}

func writeU16(b *bytes.Buffer, v uint16) { b.Write(binary.LittleEndian.AppendUint16(nil, v)) }
func writeU32(b *bytes.Buffer, v uint32) { b.Write(binary.LittleEndian.AppendUint32(nil, v)) }
func writeU64(b *bytes.Buffer, v uint64) { b.Write(binary.LittleEndian.AppendUint64(nil, v)) }
func writeF64(b *bytes.Buffer, v float64) {
	b.Write(binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)))
}

func writeStr(b *bytes.Buffer, s string) {
	writeU16(b, uint16(len(s)))
	b.WriteString(s)
}
