package pltx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Container magics. A PLTX file starts with fileMagic, every chunk block
// starts with chunkMagic, the index region with indexMagic, and the last
// footerSize bytes of the file hold footerMagic plus the index offset.
const (
	fileMagic   = "PLTX"
	chunkMagic  = "CHNK"
	indexMagic  = "IDXT"
	footerMagic = "FTER"
)

// Version is the container version this reader understands. Other
// versions are rejected at open time, not best-effort parsed.
const Version = 2

// Compression identifies the codec applied to chunk payloads. The code
// is stored once in the file header and applies to every chunk.
type Compression uint8

const (
	// CompressionNone stores chunk payloads verbatim.
	CompressionNone Compression = 0
	// CompressionZlib compresses chunk payloads with zlib.
	CompressionZlib Compression = 1
	// CompressionLZ4 compresses chunk payloads with LZ4 block format.
	CompressionLZ4 Compression = 2
	// CompressionZstd compresses chunk payloads with zstd.
	CompressionZstd Compression = 3
)

func (c Compression) valid() bool {
	return c <= CompressionZstd
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Fixed region sizes, little-endian throughout.
const (
	headerPrefixSize = 4 + 1 + 1 + 8 + 2  // magic, version, compression, created, signal count
	chunkHeaderSize  = 4 + 4 + 4 + 4 + 16 // sid, record count, raw len, comp len, min/max ts
	chunkPrefixSize  = 4 + chunkHeaderSize
	indexEntrySize   = 4 + 8 + 16 // sid, offset, min/max ts
	footerSize       = 4 + 8      // magic, index offset
	recordSize       = 16         // timestamp f64, value f64
)

// FileHeader is the fixed prefix of a PLTX file.
type FileHeader struct {
	Version     uint8
	Compression Compression
	Created     float64 // unix seconds at write time
	SignalCount uint16
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	var h FileHeader
	if len(buf) < headerPrefixSize {
		return h, fmt.Errorf("%w: short header prefix (%d bytes)", ErrBadHeader, len(buf))
	}
	if string(buf[0:4]) != fileMagic {
		return h, fmt.Errorf("%w: bad file magic %q", ErrBadHeader, buf[0:4])
	}
	h.Version = buf[4]
	h.Compression = Compression(buf[5])
	h.Created = math.Float64frombits(binary.LittleEndian.Uint64(buf[6:14]))
	h.SignalCount = binary.LittleEndian.Uint16(buf[14:16])
	if h.Version != Version {
		return h, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, h.Version)
	}
	if !h.Compression.valid() {
		return h, fmt.Errorf("%w: code %d", ErrUnsupportedCompression, uint8(h.Compression))
	}
	return h, nil
}

// chunkHeader is the per-chunk fixed header, stored right after the
// chunk magic.
type chunkHeader struct {
	SignalID    uint32
	RecordCount uint32
	RawLen      uint32
	CompLen     uint32
	MinTS       float64
	MaxTS       float64
}

func decodeChunkHeader(buf []byte) (chunkHeader, error) {
	var h chunkHeader
	if len(buf) < chunkPrefixSize {
		return h, fmt.Errorf("chunk prefix too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != chunkMagic {
		return h, fmt.Errorf("bad chunk magic %q", buf[0:4])
	}
	b := buf[4:]
	h.SignalID = binary.LittleEndian.Uint32(b[0:4])
	h.RecordCount = binary.LittleEndian.Uint32(b[4:8])
	h.RawLen = binary.LittleEndian.Uint32(b[8:12])
	h.CompLen = binary.LittleEndian.Uint32(b[12:16])
	h.MinTS = math.Float64frombits(binary.LittleEndian.Uint64(b[16:24]))
	h.MaxTS = math.Float64frombits(binary.LittleEndian.Uint64(b[24:32]))
	return h, nil
}

// indexEntry is one record of the on-disk index region.
type indexEntry struct {
	SignalID uint32
	Offset   uint64
	MinTS    float64
	MaxTS    float64
}

func decodeIndexEntry(buf []byte) indexEntry {
	return indexEntry{
		SignalID: binary.LittleEndian.Uint32(buf[0:4]),
		Offset:   binary.LittleEndian.Uint64(buf[4:12]),
		MinTS:    math.Float64frombits(binary.LittleEndian.Uint64(buf[12:20])),
		MaxTS:    math.Float64frombits(binary.LittleEndian.Uint64(buf[20:28])),
	}
}

// Sample is one (timestamp, value) pair. The reader does not enforce
// timestamp monotonicity inside a chunk; it trusts chunk ordering.
type Sample struct {
	Timestamp float64
	Value     float64
}

// SignalMetadata describes one signal of an opened file. Immutable after
// index construction.
type SignalMetadata struct {
	Name        string
	Unit        string
	Description string
	Source      string

	// Derived from the chunk descriptors at open time.
	SampleCount uint64
	StartTime   float64
	EndTime     float64
}

// ChunkDescriptor locates one chunk block inside the file. Descriptors
// for a signal are kept in strictly increasing StartTime order.
type ChunkDescriptor struct {
	Offset      int64 // file offset of the chunk magic
	Length      int64 // total block length including magic and header
	SampleCount uint32
	StartTime   float64
	EndTime     float64
	Compression Compression
}
