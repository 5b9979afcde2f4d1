package ziparchive

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"unicode/utf8"

	kflate "github.com/klauspost/compress/flate"

	"github.com/ossyrian/bundlr/internal/types"
)

// File is one central directory entry.
type File struct {
	Name               string
	CreatorVersion     uint16
	Flags              uint16
	Method             uint16
	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64
	ExternalAttrs      uint32

	headerOffset uint64
	zr           *Reader
}

// Mode returns the Unix permission and type bits stored in the upper
// 16 bits of the external attributes.
func (f *File) Mode() uint32 {
	return f.ExternalAttrs >> 16
}

// IsSymlink reports whether the entry's mode carries S_IFLNK.
func (f *File) IsSymlink() bool {
	return types.IsSymlinkMode(f.Mode())
}

// IsDir reports whether the entry denotes a directory.
func (f *File) IsDir() bool {
	if strings.HasSuffix(f.Name, "/") || types.IsDirMode(f.Mode()) {
		return true
	}
	return f.Mode() == 0 && f.ExternalAttrs&msdosDir != 0
}

// UTF8 reports whether the name is flagged as UTF-8 encoded.
func (f *File) UTF8() bool {
	return f.Flags&flagUTF8 != 0
}

// Kind classifies the entry; symlink bits take precedence.
func (f *File) Kind() types.Kind {
	switch {
	case f.IsSymlink():
		return types.KindSymlink
	case f.IsDir():
		return types.KindDirectory
	default:
		return types.KindFile
	}
}

// Entry returns the shared entry metadata.
func (f *File) Entry() types.Entry {
	return types.Entry{
		Name: f.Name,
		Kind: f.Kind(),
		Size: int64(f.UncompressedSize64),
		Mode: f.Mode(),
	}
}

// rawData returns the still-compressed payload located through the local
// file header.
func (f *File) rawData() ([]byte, error) {
	data := f.zr.data
	off := f.headerOffset
	if off > uint64(len(data)) || uint64(len(data))-off < lenLocalFile {
		return nil, formatErr("%s: truncated local file header", f.Name)
	}
	if sig := binary.LittleEndian.Uint32(data[off:]); sig != sigLocalFile {
		return nil, formatErr("%s: bad local file header signature %#08x", f.Name, sig)
	}
	nameLen := uint64(binary.LittleEndian.Uint16(data[off+26:]))
	extraLen := uint64(binary.LittleEndian.Uint16(data[off+28:]))

	start := off + lenLocalFile + nameLen + extraLen
	if start > uint64(len(data)) || uint64(len(data))-start < f.CompressedSize64 {
		return nil, formatErr("%s: payload of %d bytes runs past the end of the archive", f.Name, f.CompressedSize64)
	}
	end := start + f.CompressedSize64
	return data[start:end:end], nil
}

// Bytes decompresses the entry and verifies its size and CRC-32.
func (f *File) Bytes() ([]byte, error) {
	if f.Flags&flagEncrypted != 0 {
		return nil, formatErr("%s: encrypted entries are not supported", f.Name)
	}
	if f.UncompressedSize64 > f.zr.maxEntrySize {
		return nil, formatErr("%s: declared size %d exceeds the %d byte limit",
			f.Name, f.UncompressedSize64, f.zr.maxEntrySize)
	}

	raw, err := f.rawData()
	if err != nil {
		return nil, err
	}

	var out []byte
	switch f.Method {
	case MethodStore:
		if f.CompressedSize64 != f.UncompressedSize64 {
			return nil, formatErr("%s: stored entry sizes differ (%d != %d)",
				f.Name, f.CompressedSize64, f.UncompressedSize64)
		}
		out = raw
	case MethodDeflate:
		out, err = inflate(raw, f.UncompressedSize64, f.zr.fastInflate)
		if err != nil {
			return nil, formatErr("%s: %v", f.Name, err)
		}
	default:
		return nil, formatErr("%s: unsupported compression method %d", f.Name, f.Method)
	}

	if sum := crc32.ChecksumIEEE(out); sum != f.CRC32 {
		return nil, formatErr("%s: checksum mismatch (got %#08x, want %#08x)", f.Name, sum, f.CRC32)
	}

	return out, nil
}

// Text decompresses the entry as UTF-8 text, as used for symlink targets.
func (f *File) Text() (string, error) {
	b, err := f.Bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", formatErr("%s: content is not valid UTF-8", f.Name)
	}
	return string(b), nil
}

// inflate decodes a raw deflate stream that must produce exactly size bytes.
func inflate(compressed []byte, size uint64, fast bool) ([]byte, error) {
	var rc io.ReadCloser
	if fast {
		rc = kflate.NewReader(bytes.NewReader(compressed))
	} else {
		rc = flate.NewReader(bytes.NewReader(compressed))
	}
	defer rc.Close()

	var buf bytes.Buffer
	buf.Grow(int(min(size, 1<<24)))
	n, err := io.Copy(&buf, io.LimitReader(rc, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("inflate failed: %w", err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("inflated %d bytes, want %d", n, size)
	}
	return buf.Bytes(), nil
}
