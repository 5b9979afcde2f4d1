package ziparchive

// Record signatures, little endian on the wire.
const (
	sigLocalFile        = 0x04034b50
	sigCentralDir       = 0x02014b50
	sigDirectoryEnd     = 0x06054b50
	sigDirectory64End   = 0x07064b50 // ZIP64 end of central directory locator
	sigDirectory64Start = 0x06064b50 // ZIP64 end of central directory record
)

// Fixed record lengths, excluding variable name/extra/comment fields.
const (
	lenLocalFile      = 30
	lenCentralDir     = 46
	lenDirectoryEnd   = 22
	lenDirectory64Loc = 20
	lenDirectory64End = 56
)

// maxCommentLen bounds how far back from the end of the buffer the
// end-of-central-directory record can start.
const maxCommentLen = 0xffff

const zip64ExtraID = 0x0001

// Compression methods understood by the reader.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
)

const (
	flagEncrypted = 0x1
	flagUTF8      = 0x800
)

// msdosDir is the MS-DOS directory attribute in the low byte of the
// external attributes.
const msdosDir = 0x10

// DefaultMaxEntrySize caps the declared uncompressed size of one entry (1 GiB).
const DefaultMaxEntrySize = 1 << 30
