package pltx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeChunk decodes one raw chunk block into its samples. raw must be
// the full block as stored on disk (magic, header, payload), typically
// the Length bytes at Offset named by desc.
//
// DecodeChunk is pure and stateless: it performs no I/O and is safe for
// concurrent use. The returned slice has exactly desc.SampleCount
// entries; any inconsistency between block, descriptor, and payload is
// an error.
func DecodeChunk(raw []byte, desc ChunkDescriptor) ([]Sample, error) {
	h, err := decodeChunkHeader(raw)
	if err != nil {
		return nil, err
	}
	if h.RecordCount != desc.SampleCount {
		return nil, fmt.Errorf("chunk declares %d records, descriptor %d", h.RecordCount, desc.SampleCount)
	}
	if int(h.RawLen) != int(h.RecordCount)*recordSize {
		return nil, fmt.Errorf("raw length %d does not match %d records", h.RawLen, h.RecordCount)
	}
	payload := raw[chunkPrefixSize:]
	if len(payload) != int(h.CompLen) {
		return nil, fmt.Errorf("truncated payload: %d bytes, want %d", len(payload), h.CompLen)
	}

	data, err := decompress(payload, desc.Compression, int(h.RawLen))
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, h.RecordCount)
	for i := range samples {
		rec := data[i*recordSize:]
		samples[i] = Sample{
			Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(rec[0:8])),
			Value:     math.Float64frombits(binary.LittleEndian.Uint64(rec[8:16])),
		}
	}
	return samples, nil
}
