package types

import "errors"

var (
	// ErrArchiveFormat is wrapped by every structural failure found while
	// reading a ZIP or TAR archive, including entries that escape their
	// mount root.
	ErrArchiveFormat = errors.New("archive format error")

	// ErrUnsupportedEntryType marks archive entries that are neither files,
	// directories nor symlinks. Such entries are skipped, never fatal.
	ErrUnsupportedEntryType = errors.New("unsupported entry type")
)

// POSIX file type bits as stored in the upper half of a ZIP entry's
// external attributes and in a TAR header's mode field.
const (
	S_IFMT  = 0o170000 // type mask
	S_IFDIR = 0o040000 // directory
	S_IFREG = 0o100000 // regular file
	S_IFLNK = 0o120000 // symbolic link
)

// IsSymlinkMode reports whether mode carries the symbolic link type bits.
func IsSymlinkMode(mode uint32) bool {
	return mode&S_IFMT == S_IFLNK
}

// IsDirMode reports whether mode carries the directory type bits.
func IsDirMode(mode uint32) bool {
	return mode&S_IFMT == S_IFDIR
}

// Kind is the closed set of entry kinds an archive reader can yield.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "File"
	case KindDirectory:
		return "Directory"
	case KindSymlink:
		return "Symlink"
	case KindUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Entry is the metadata shared by ZIP and TAR entries.
type Entry struct {
	Name string // path relative to the archive root, forward slashes
	Kind Kind
	Size int64  // uncompressed payload length in bytes
	Mode uint32 // Unix mode bits, zero when the archive does not record them
}
