package tararchive

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ossyrian/bundlr/internal/types"
)

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: tar: %s", types.ErrArchiveFormat, fmt.Sprintf(format, args...))
}

// header is one raw 512-byte header block.
type header []byte

func (h header) field(off, n int) []byte {
	return h[off : off+n]
}

func (h header) isZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

func (h header) typeflag() byte {
	return h[offTypeflag]
}

func (h header) magic() string {
	return string(h.field(offMagic, lenMagic))
}

// verifyChecksum compares the stored checksum against both the unsigned and
// the historical signed byte sum, with the checksum field read as spaces.
func (h header) verifyChecksum() error {
	stored, err := parseNumeric(h.field(offChksum, lenChksum))
	if err != nil {
		return formatErr("bad checksum field: %v", err)
	}

	var unsigned, signed int64
	for i, b := range h {
		if i >= offChksum && i < offChksum+lenChksum {
			b = ' '
		}
		unsigned += int64(b)
		signed += int64(int8(b))
	}
	if stored != unsigned && stored != signed {
		return formatErr("header checksum mismatch (stored %d, computed %d)", stored, unsigned)
	}
	return nil
}

// name joins the ustar prefix and name fields.
func (h header) name() string {
	name := parseString(h.field(offName, lenName))
	if h.magic() == magicUSTAR {
		if prefix := parseString(h.field(offPrefix, lenPrefix)); prefix != "" {
			name = prefix + "/" + name
		}
	}
	return name
}

// parseString returns the bytes up to the first NUL.
func parseString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// parseNumeric decodes an octal field, or a base-256 field when the high bit
// of the first byte is set.
func parseNumeric(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		if b[0]&0x40 != 0 {
			return 0, fmt.Errorf("negative base-256 value")
		}
		var v int64
		for i, c := range b {
			if i == 0 {
				c &= 0x7f
			}
			if v>>55 != 0 {
				return 0, fmt.Errorf("base-256 value overflows int64")
			}
			v = v<<8 | int64(c)
		}
		return v, nil
	}

	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid octal value %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %d", v)
	}
	return v, nil
}

// parsePAX decodes "%d key=value\n" records.
func parsePAX(data []byte) (map[string]string, error) {
	records := make(map[string]string)
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			return nil, formatErr("malformed pax record")
		}
		n, err := strconv.Atoi(string(data[:sp]))
		if err != nil || n <= sp+1 || n > len(data) {
			return nil, formatErr("malformed pax record length %q", data[:sp])
		}
		rec := data[sp+1 : n]
		data = data[n:]

		if len(rec) == 0 || rec[len(rec)-1] != '\n' {
			return nil, formatErr("pax record missing newline")
		}
		key, value, ok := strings.Cut(string(rec[:len(rec)-1]), "=")
		if !ok {
			return nil, formatErr("pax record missing '='")
		}
		records[key] = value
	}
	return records, nil
}

// kindOf maps a type flag to the entry kind.
func kindOf(flag byte, name string) types.Kind {
	switch flag {
	case TypeReg, TypeRegA:
		if strings.HasSuffix(name, "/") {
			return types.KindDirectory
		}
		return types.KindFile
	case TypeCont:
		return types.KindFile
	case TypeDir:
		return types.KindDirectory
	case TypeSymlink:
		return types.KindSymlink
	default:
		return types.KindUnsupported
	}
}

// typeName describes a type flag for diagnostics.
func typeName(flag byte) string {
	switch flag {
	case TypeLink:
		return "hard link"
	case TypeChar:
		return "character device"
	case TypeBlock:
		return "block device"
	case TypeFifo:
		return "fifo"
	default:
		return fmt.Sprintf("type %q", flag)
	}
}
