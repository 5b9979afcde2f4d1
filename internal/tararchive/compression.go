package tararchive

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies the outer compression of a TAR payload.
type Compression int

const (
	Uncompressed Compression = iota
	Gzip
	Xz
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "none"
	case Gzip:
		return "gzip"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression sniffs the leading magic bytes of data.
func DetectCompression(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, magicGzip):
		return Gzip
	case bytes.HasPrefix(data, magicXz):
		return Xz
	case bytes.HasPrefix(data, magicZstd):
		return Zstd
	default:
		return Uncompressed
	}
}

// Decompress strips a gzip, xz or zstd wrapper from data. Data without a
// recognized magic is returned unchanged. The output is capped at maxSize
// bytes.
func Decompress(data []byte, maxSize int64) ([]byte, Compression, error) {
	c := DetectCompression(data)

	var (
		r   io.Reader
		err error
	)
	switch c {
	case Uncompressed:
		return data, c, nil
	case Gzip:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(bytes.NewReader(data)); err == nil {
			defer zr.Close()
			r = zr
		}
	case Xz:
		r, err = xz.NewReader(bytes.NewReader(data))
	case Zstd:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)))
		if err == nil {
			defer dec.Close()
			out, derr := dec.DecodeAll(data, nil)
			if derr != nil {
				return nil, c, formatErr("zstd stream: %v", derr)
			}
			return out, c, nil
		}
	}
	if err != nil {
		return nil, c, formatErr("%s stream: %v", c, err)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, c, formatErr("%s stream: %v", c, err)
	}
	if n > maxSize {
		return nil, c, formatErr("%s stream: decompressed size exceeds %d bytes", c, maxSize)
	}
	return buf.Bytes(), c, nil
}
