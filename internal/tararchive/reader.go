// Package tararchive reads POSIX TAR streams held in memory.
//
// Headers are parsed strictly in stream order. Stream adds flow control on
// top of Reader: the next header is not parsed until the consumer of the
// current entry calls Done.
package tararchive

import (
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ossyrian/bundlr/internal/types"
)

// Entry is one TAR member with its payload.
type Entry struct {
	types.Entry
	Typeflag byte
	Linkname string // symlink target, if any
	Data     []byte // payload, a sub-slice of the archive buffer

	ack  chan struct{}
	once sync.Once
}

// Done acknowledges the entry, allowing the owning Stream to parse the next
// header. It is safe to call more than once.
func (e *Entry) Done() {
	if e.ack == nil {
		return
	}
	e.once.Do(func() { close(e.ack) })
}

// Reader parses headers sequentially from an in-memory TAR stream.
type Reader struct {
	data   []byte
	off    int
	count  int
	logger *slog.Logger
}

// NewReader returns a Reader over data.
func NewReader(data []byte, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{data: data, logger: logger}
}

// Next returns the next supported-or-not entry, consuming any PAX or GNU
// long-name headers that precede it. It returns io.EOF at the end of the
// archive.
func (r *Reader) Next() (*Entry, error) {
	var (
		longName, longLink string
		pax               map[string]string
	)

	for {
		hdr, err := r.readHeader()
		if err != nil {
			return nil, err
		}
		size, err := parseNumeric(hdr.field(offSize, lenSize))
		if err != nil {
			return nil, formatErr("header at offset %d: bad size field: %v", r.off-blockSize, err)
		}
		if v, ok := pax["size"]; ok {
			if size, err = strconv.ParseInt(v, 10, 64); err != nil || size < 0 {
				return nil, formatErr("bad pax size %q", v)
			}
		}

		flag := hdr.typeflag()
		if headerOnly(flag) {
			size = 0
		}

		payload, err := r.readPayload(size)
		if err != nil {
			return nil, err
		}

		switch flag {
		case TypeXHeader:
			if pax, err = parsePAX(payload); err != nil {
				return nil, err
			}
			continue
		case TypeXGlobal:
			// Global records only carry defaults we do not use.
			continue
		case TypeGNULongName:
			longName = parseString(payload)
			continue
		case TypeGNULongLink:
			longLink = parseString(payload)
			continue
		}

		name := hdr.name()
		linkname := parseString(hdr.field(offLinkname, lenLinkname))
		if longName != "" {
			name = longName
		}
		if longLink != "" {
			linkname = longLink
		}
		if v, ok := pax["path"]; ok {
			name = v
		}
		if v, ok := pax["linkpath"]; ok {
			linkname = v
		}

		mode, err := parseNumeric(hdr.field(offMode, lenMode))
		if err != nil {
			return nil, formatErr("%s: bad mode field: %v", name, err)
		}

		e := &Entry{
			Entry: types.Entry{
				Name: name,
				Kind: kindOf(flag, name),
				Size: int64(len(payload)),
				Mode: uint32(mode),
			},
			Typeflag: flag,
			Linkname: linkname,
			Data:     payload,
		}
		r.count++

		r.logger.Debug("read tar header",
			"index", r.count-1,
			"name", e.Name,
			"type", string(rune(flag)),
			"kind", e.Kind,
			"size", e.Size,
		)
		return e, nil
	}
}

// headerOnly reports whether entries of this type never carry a payload,
// whatever their size field says.
func headerOnly(flag byte) bool {
	switch flag {
	case TypeLink, TypeSymlink, TypeChar, TypeBlock, TypeDir, TypeFifo:
		return true
	}
	return false
}

// Describe returns a human readable type for unsupported entries.
func (e *Entry) Describe() string {
	return typeName(e.Typeflag)
}

// readHeader returns the next header block, or io.EOF at a zero block or at
// a clean end of a non-empty stream.
func (r *Reader) readHeader() (header, error) {
	remaining := len(r.data) - r.off
	if remaining == 0 {
		if r.off == 0 {
			return nil, formatErr("empty archive")
		}
		return nil, io.EOF
	}
	if remaining < blockSize {
		return nil, formatErr("truncated header at offset %d (%d bytes left)", r.off, remaining)
	}

	hdr := header(r.data[r.off : r.off+blockSize])
	if hdr.isZero() {
		return nil, io.EOF
	}
	if err := hdr.verifyChecksum(); err != nil {
		return nil, err
	}
	if m := hdr.magic(); m != magicUSTAR && m != magicGNU && hdr.field(offMagic, lenMagic)[0] != 0 {
		return nil, formatErr("unknown header magic %q at offset %d", m, r.off)
	}

	r.off += blockSize
	return hdr, nil
}

// readPayload consumes size bytes and their block padding.
func (r *Reader) readPayload(size int64) ([]byte, error) {
	remaining := int64(len(r.data) - r.off)
	if size > remaining {
		return nil, formatErr("truncated payload at offset %d: need %d bytes, have %d", r.off, size, remaining)
	}

	start := r.off
	end := start + int(size)
	padded := int64(end) + (blockSize-size%blockSize)%blockSize
	r.off = int(min(padded, int64(len(r.data))))
	return r.data[start:end:end], nil
}
