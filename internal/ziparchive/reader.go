// Package ziparchive indexes ZIP archives held in memory.
//
// Only the central directory is trusted for entry metadata; local headers are
// consulted solely to locate each entry's payload. Entry content is
// decompressed lazily, one entry at a time, so entries can be materialized
// concurrently by callers.
package ziparchive

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ossyrian/bundlr/internal/types"
)

// Reader indexes the central directory of an in-memory ZIP archive.
type Reader struct {
	data         []byte
	logger       *slog.Logger
	fastInflate  bool
	maxEntrySize uint64

	// Files lists the archive entries in central directory order.
	Files   []*File
	Comment string
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for per-entry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithFastInflate toggles the klauspost inflate path for deflated entries.
// It is enabled by default; disabling it falls back to compress/flate.
func WithFastInflate(enabled bool) Option {
	return func(r *Reader) {
		r.fastInflate = enabled
	}
}

// WithMaxEntrySize rejects entries whose declared uncompressed size exceeds n.
func WithMaxEntrySize(n uint64) Option {
	return func(r *Reader) {
		r.maxEntrySize = n
	}
}

// directoryEnd is the decoded end of central directory record.
type directoryEnd struct {
	records   uint64
	size      uint64
	offset    uint64
	comment   string
	recordPos int64 // where the classic record starts in the buffer
}

// NewReader parses the central directory of data.
func NewReader(data []byte, opts ...Option) (*Reader, error) {
	r := &Reader{
		data:         data,
		logger:       slog.Default(),
		fastInflate:  true,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(r)
	}

	end, err := r.readDirectoryEnd()
	if err != nil {
		return nil, err
	}
	if err := r.readCentralDirectory(end); err != nil {
		return nil, err
	}

	r.logger.Debug("read zip central directory",
		"entries", len(r.Files),
		"directory_offset", end.offset,
		"directory_size", end.size,
	)

	return r, nil
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: zip: %s", types.ErrArchiveFormat, fmt.Sprintf(format, args...))
}

// readDirectoryEnd locates the end of central directory record, scanning
// backwards over a possible archive comment, and follows the ZIP64 locator
// when one precedes it.
func (r *Reader) readDirectoryEnd() (*directoryEnd, error) {
	size := int64(len(r.data))
	if size < lenDirectoryEnd {
		return nil, formatErr("buffer of %d bytes is too short for an end of central directory record", size)
	}

	pos := int64(-1)
	lowest := max(size-lenDirectoryEnd-maxCommentLen, 0)
	for i := size - lenDirectoryEnd; i >= lowest; i-- {
		if binary.LittleEndian.Uint32(r.data[i:]) != sigDirectoryEnd {
			continue
		}
		commentLen := int64(binary.LittleEndian.Uint16(r.data[i+20:]))
		if i+lenDirectoryEnd+commentLen <= size {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, formatErr("end of central directory record not found")
	}

	b := readBuf(r.data[pos+4 : pos+lenDirectoryEnd])
	diskNumber := b.uint16()
	directoryDisk := b.uint16()
	diskRecords := b.uint16()
	records := b.uint16()
	dirSize := b.uint32()
	dirOffset := b.uint32()
	commentLen := b.uint16()

	if diskNumber != directoryDisk || diskRecords != records {
		return nil, formatErr("multi-disk archives are not supported")
	}

	end := &directoryEnd{
		records:   uint64(records),
		size:      uint64(dirSize),
		offset:    uint64(dirOffset),
		comment:   string(r.data[pos+lenDirectoryEnd : pos+lenDirectoryEnd+int64(commentLen)]),
		recordPos: pos,
	}

	if err := r.readDirectory64End(end); err != nil {
		return nil, err
	}

	if end.offset > uint64(end.recordPos) || end.size > uint64(end.recordPos)-end.offset {
		return nil, formatErr("central directory (offset %d, size %d) overlaps its end record at %d",
			end.offset, end.size, end.recordPos)
	}
	if end.records > end.size/lenCentralDir {
		return nil, formatErr("%d records cannot fit in a %d byte central directory", end.records, end.size)
	}

	return end, nil
}

// readDirectory64End replaces the classic values with the ZIP64 record when
// the locator is present.
func (r *Reader) readDirectory64End(end *directoryEnd) error {
	locPos := end.recordPos - lenDirectory64Loc
	if locPos < 0 || binary.LittleEndian.Uint32(r.data[locPos:]) != sigDirectory64End {
		return nil
	}

	b := readBuf(r.data[locPos+4 : locPos+lenDirectory64Loc])
	_ = b.uint32() // disk with the zip64 record
	recOffset := b.uint64()
	if totalDisks := b.uint32(); totalDisks > 1 {
		return formatErr("multi-disk archives are not supported")
	}

	if recOffset > uint64(locPos) || uint64(locPos)-recOffset < lenDirectory64End {
		return formatErr("zip64 end record offset %d is out of range", recOffset)
	}
	if binary.LittleEndian.Uint32(r.data[recOffset:]) != sigDirectory64Start {
		return formatErr("bad zip64 end record signature at %d", recOffset)
	}

	b = readBuf(r.data[recOffset+12 : recOffset+lenDirectory64End])
	_ = b.uint16() // version made by
	_ = b.uint16() // version needed
	_ = b.uint32() // disk number
	_ = b.uint32() // disk with central directory
	_ = b.uint64() // records on this disk
	end.records = b.uint64()
	end.size = b.uint64()
	end.offset = b.uint64()
	end.recordPos = int64(recOffset)

	r.logger.Debug("using zip64 end of central directory", "offset", recOffset)
	return nil
}

// readCentralDirectory decodes every central directory header described
// by end into r.Files.
func (r *Reader) readCentralDirectory(end *directoryEnd) error {
	r.Comment = end.comment
	r.Files = make([]*File, 0, end.records)

	dir := r.data[end.offset : end.offset+end.size]
	off := 0
	for i := uint64(0); i < end.records; i++ {
		f, n, err := r.readFileHeader(dir[off:])
		if err != nil {
			return fmt.Errorf("failed to read central directory entry %d: %w", i, err)
		}
		off += n

		r.logger.Debug("read zip entry",
			"index", i,
			"name", f.Name,
			"method", f.Method,
			"mode", fmt.Sprintf("%o", f.Mode()),
			"compressed_size", f.CompressedSize64,
			"size", f.UncompressedSize64,
		)

		r.Files = append(r.Files, f)
	}

	return nil
}

// readFileHeader decodes one central directory header and reports how many
// bytes it occupied.
func (r *Reader) readFileHeader(buf []byte) (*File, int, error) {
	if len(buf) < lenCentralDir {
		return nil, 0, formatErr("truncated central directory header")
	}
	b := readBuf(buf[:lenCentralDir])
	if sig := b.uint32(); sig != sigCentralDir {
		return nil, 0, formatErr("bad central directory signature %#08x", sig)
	}

	f := &File{zr: r}
	f.CreatorVersion = b.uint16()
	_ = b.uint16() // version needed
	f.Flags = b.uint16()
	f.Method = b.uint16()
	_ = b.uint16() // modified time
	_ = b.uint16() // modified date
	f.CRC32 = b.uint32()
	f.CompressedSize64 = uint64(b.uint32())
	f.UncompressedSize64 = uint64(b.uint32())
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	_ = b.uint16() // disk number start
	_ = b.uint16() // internal attributes
	f.ExternalAttrs = b.uint32()
	f.headerOffset = uint64(b.uint32())

	total := lenCentralDir + nameLen + extraLen + commentLen
	if len(buf) < total {
		return nil, 0, formatErr("central directory header overruns the directory")
	}
	f.Name = string(buf[lenCentralDir : lenCentralDir+nameLen])
	extra := buf[lenCentralDir+nameLen : lenCentralDir+nameLen+extraLen]

	if err := f.readZip64Extra(extra); err != nil {
		return nil, 0, err
	}
	if f.headerOffset >= uint64(len(r.data)) {
		return nil, 0, formatErr("%s: local header offset %d is past the end of the archive", f.Name, f.headerOffset)
	}

	return f, total, nil
}

// readZip64Extra fills the sizes and offset that the fixed header marks as
// overflowed (0xffffffff) from the ZIP64 extended information field.
func (f *File) readZip64Extra(extra []byte) error {
	needUSize := f.UncompressedSize64 == 0xffffffff
	needCSize := f.CompressedSize64 == 0xffffffff
	needOffset := f.headerOffset == 0xffffffff

	b := readBuf(extra)
	for len(b) >= 4 {
		id := b.uint16()
		size := int(b.uint16())
		if len(b) < size {
			return formatErr("%s: truncated extra field", f.Name)
		}
		field := b.sub(size)
		if id != zip64ExtraID {
			continue
		}
		if needUSize {
			if len(field) < 8 {
				return formatErr("%s: short zip64 extra field", f.Name)
			}
			f.UncompressedSize64 = field.uint64()
		}
		if needCSize {
			if len(field) < 8 {
				return formatErr("%s: short zip64 extra field", f.Name)
			}
			f.CompressedSize64 = field.uint64()
		}
		if needOffset {
			if len(field) < 8 {
				return formatErr("%s: short zip64 extra field", f.Name)
			}
			f.headerOffset = field.uint64()
		}
		return nil
	}

	if needUSize || needCSize || needOffset {
		return formatErr("%s: missing zip64 extra field", f.Name)
	}
	return nil
}

// readBuf consumes little-endian values from the front of a byte slice.
type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}
