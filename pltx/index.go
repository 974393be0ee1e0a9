package pltx

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
)

// signalEntry is the in-memory index record for one signal: its
// metadata plus the ordered list of chunk descriptors.
type signalEntry struct {
	meta   SignalMetadata
	chunks []ChunkDescriptor
}

// signalIndex is built once per opened file and never mutated
// afterwards, which makes it safe for unsynchronized concurrent reads.
type signalIndex struct {
	order  []string // names in header order, stable for the reader's life
	byName map[string]*signalEntry
}

// buildIndex parses the header, footer, and index regions through the
// file handle and cross-checks every chunk's on-disk header against its
// index entry. It reads chunk headers but never chunk payloads.
//
// Any inconsistency rejects the whole file; a partially corrupt index is
// not partially trusted.
func buildIndex(ctx context.Context, h *fileHandle) (FileHeader, *signalIndex, error) {
	var hdr FileHeader

	if h.size < headerPrefixSize+footerSize {
		return hdr, nil, fmt.Errorf("%w: file of %d bytes is too small", ErrBadHeader, h.size)
	}

	prefix, err := h.readRange(ctx, 0, headerPrefixSize)
	if err != nil {
		return hdr, nil, err
	}
	hdr, err = decodeFileHeader(prefix)
	if err != nil {
		return hdr, nil, err
	}

	metaByID, err := readSignalTable(ctx, h, hdr.SignalCount)
	if err != nil {
		return hdr, nil, err
	}

	entries, indexOff, err := readIndexEntries(ctx, h)
	if err != nil {
		return hdr, nil, err
	}

	idx := &signalIndex{byName: make(map[string]*signalEntry, len(metaByID))}
	bySID := make(map[uint32]*signalEntry, len(metaByID))
	for _, sid := range sortedSignalIDs(metaByID) {
		meta := metaByID[sid]
		e := &signalEntry{meta: meta}
		bySID[sid] = e
		if _, dup := idx.byName[meta.Name]; dup {
			// Duplicate names inside one file keep the first occurrence;
			// cross-file collisions are the catalog's concern.
			continue
		}
		idx.byName[meta.Name] = e
		idx.order = append(idx.order, meta.Name)
	}

	for i, ent := range entries {
		e, ok := bySID[ent.SignalID]
		if !ok {
			return hdr, nil, fmt.Errorf("%w: entry %d references unknown signal id %d", ErrBadIndex, i, ent.SignalID)
		}

		desc, err := readChunkDescriptor(ctx, h, ent, indexOff, hdr.Compression)
		if err != nil {
			return hdr, nil, fmt.Errorf("%w: entry %d: %v", ErrBadIndex, i, err)
		}
		if n := len(e.chunks); n > 0 && desc.StartTime <= e.chunks[n-1].StartTime {
			return hdr, nil, fmt.Errorf("%w: chunks of signal %q are not in increasing time order", ErrBadIndex, e.meta.Name)
		}
		e.chunks = append(e.chunks, desc)

		if e.meta.SampleCount == 0 {
			e.meta.StartTime = desc.StartTime
		}
		e.meta.SampleCount += uint64(desc.SampleCount)
		e.meta.EndTime = desc.EndTime
	}

	return hdr, idx, nil
}

// readSignalTable reads the per-signal metadata records that follow the
// header prefix.
func readSignalTable(ctx context.Context, h *fileHandle, count uint16) (map[uint32]SignalMetadata, error) {
	metaByID := make(map[uint32]SignalMetadata, count)

	off := int64(headerPrefixSize)
	for i := 0; i < int(count); i++ {
		buf, err := h.readRange(ctx, off, 4)
		if err != nil {
			return nil, fmt.Errorf("%w: signal table truncated: %v", ErrBadHeader, err)
		}
		sid := binary.LittleEndian.Uint32(buf)
		off += 4

		var fields [4]string
		for j := range fields {
			s, n, err := readLenString(ctx, h, off)
			if err != nil {
				return nil, fmt.Errorf("%w: metadata of signal id %d: %v", ErrBadHeader, sid, err)
			}
			fields[j] = s
			off += n
		}
		meta := SignalMetadata{
			Name:        fields[0],
			Unit:        fields[1],
			Description: fields[2],
			Source:      fields[3],
		}
		if meta.Name == "" {
			return nil, fmt.Errorf("%w: signal id %d has an empty name", ErrBadHeader, sid)
		}
		if _, dup := metaByID[sid]; dup {
			return nil, fmt.Errorf("%w: duplicate signal id %d", ErrBadHeader, sid)
		}
		metaByID[sid] = meta
	}
	return metaByID, nil
}

func readLenString(ctx context.Context, h *fileHandle, off int64) (string, int64, error) {
	buf, err := h.readRange(ctx, off, 2)
	if err != nil {
		return "", 0, err
	}
	n := int64(binary.LittleEndian.Uint16(buf))
	if n == 0 {
		return "", 2, nil
	}
	buf, err = h.readRange(ctx, off+2, n)
	if err != nil {
		return "", 0, err
	}
	return string(buf), 2 + n, nil
}

// readIndexEntries locates the index via the footer and decodes all
// entries. Returns the entries in file order and the index offset, which
// bounds every chunk's byte range from above.
func readIndexEntries(ctx context.Context, h *fileHandle) ([]indexEntry, int64, error) {
	foot, err := h.readRange(ctx, h.size-footerSize, footerSize)
	if err != nil {
		return nil, 0, err
	}
	if string(foot[0:4]) != footerMagic {
		return nil, 0, fmt.Errorf("%w: bad footer magic %q", ErrBadIndex, foot[0:4])
	}
	indexOff := int64(binary.LittleEndian.Uint64(foot[4:12]))
	if indexOff < headerPrefixSize || indexOff > h.size-footerSize-8 {
		return nil, 0, fmt.Errorf("%w: index offset %d outside file bounds", ErrBadIndex, indexOff)
	}

	head, err := h.readRange(ctx, indexOff, 8)
	if err != nil {
		return nil, 0, err
	}
	if string(head[0:4]) != indexMagic {
		return nil, 0, fmt.Errorf("%w: bad index magic %q", ErrBadIndex, head[0:4])
	}
	count := int64(binary.LittleEndian.Uint32(head[4:8]))
	if indexOff+8+count*indexEntrySize > h.size-footerSize {
		return nil, 0, fmt.Errorf("%w: %d entries exceed file bounds", ErrBadIndex, count)
	}

	raw, err := h.readRange(ctx, indexOff+8, count*indexEntrySize)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]indexEntry, count)
	for i := range entries {
		entries[i] = decodeIndexEntry(raw[i*indexEntrySize:])
	}
	return entries, indexOff, nil
}

// readChunkDescriptor reads the 36-byte chunk prefix named by one index
// entry and turns it into a descriptor, validating that the block lies
// entirely below the index region.
func readChunkDescriptor(ctx context.Context, h *fileHandle, ent indexEntry, indexOff int64, comp Compression) (ChunkDescriptor, error) {
	var desc ChunkDescriptor
	off := int64(ent.Offset)
	if off < headerPrefixSize || off+chunkPrefixSize > indexOff {
		return desc, fmt.Errorf("chunk offset %d outside data region", off)
	}
	buf, err := h.readRange(ctx, off, chunkPrefixSize)
	if err != nil {
		return desc, err
	}
	ch, err := decodeChunkHeader(buf)
	if err != nil {
		return desc, err
	}
	if ch.SignalID != ent.SignalID {
		return desc, fmt.Errorf("chunk at %d belongs to signal id %d, index says %d", off, ch.SignalID, ent.SignalID)
	}
	length := int64(chunkPrefixSize) + int64(ch.CompLen)
	if off+length > indexOff {
		return desc, fmt.Errorf("chunk at %d runs past the data region", off)
	}
	return ChunkDescriptor{
		Offset:      off,
		Length:      length,
		SampleCount: ch.RecordCount,
		StartTime:   ent.MinTS,
		EndTime:     ent.MaxTS,
		Compression: comp,
	}, nil
}

func sortedSignalIDs(m map[uint32]SignalMetadata) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
