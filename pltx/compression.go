package pltx

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// zstd decoder pool, shared by all cursors.
var zstdDecoderPool sync.Pool

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// decompress inflates one chunk payload. rawLen is the declared
// uncompressed size; a result of any other length is an error, never
// silently truncated or padded.
func decompress(data []byte, comp Compression, rawLen int) ([]byte, error) {
	switch comp {
	case CompressionNone:
		if len(data) != rawLen {
			return nil, fmt.Errorf("stored payload is %d bytes, want %d", len(data), rawLen)
		}
		return data, nil

	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		out := make([]byte, 0, rawLen)
		buf := bytes.NewBuffer(out)
		// Bound the copy so a lying header cannot balloon memory.
		n, err := io.Copy(buf, io.LimitReader(zr, int64(rawLen)+1))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		if n != int64(rawLen) {
			return nil, fmt.Errorf("zlib: inflated to %d bytes, want %d", n, rawLen)
		}
		return buf.Bytes(), nil

	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4: inflated to %d bytes, want %d", n, rawLen)
		}
		return out, nil

	case CompressionZstd:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("zstd: inflated to %d bytes, want %d", len(out), rawLen)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: code %d", ErrUnsupportedCompression, uint8(comp))
	}
}
