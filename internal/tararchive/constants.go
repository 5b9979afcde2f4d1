package tararchive

const blockSize = 512

// Type flags understood by the reader. Anything else is surfaced as
// types.KindUnsupported.
const (
	TypeReg         = '0'
	TypeRegA        = '\x00' // pre-POSIX regular file
	TypeLink        = '1'
	TypeSymlink     = '2'
	TypeChar        = '3'
	TypeBlock       = '4'
	TypeDir         = '5'
	TypeFifo        = '6'
	TypeCont        = '7'
	TypeXHeader     = 'x' // PAX extended header for the next entry
	TypeXGlobal     = 'g' // PAX global header
	TypeGNULongName = 'L'
	TypeGNULongLink = 'K'
)

// Header field offsets and widths (ustar layout).
const (
	offName     = 0
	lenName     = 100
	offMode     = 100
	lenMode     = 8
	offSize     = 124
	lenSize     = 12
	offChksum   = 148
	lenChksum   = 8
	offTypeflag = 156
	offLinkname = 157
	lenLinkname = 100
	offMagic    = 257
	lenMagic    = 8 // magic and version together
	offPrefix   = 345
	lenPrefix   = 155
)

var (
	magicUSTAR = "ustar\x0000"
	magicGNU   = "ustar  \x00"
)

// DefaultMaxSize caps the size of a decompressed TAR stream (4 GiB).
const DefaultMaxSize = 4 << 30
