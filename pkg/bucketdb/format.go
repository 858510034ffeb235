package bucketdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

// Databases are native-endian: fields are stored in host byte order and
// a byte-swapped file is detected and rejected rather than converted.
// hostOrder is computed once at package init time.
var hostOrder binary.ByteOrder = func() binary.ByteOrder {
	var x uint32 = 0x04030201

	if *(*byte)(unsafe.Pointer(&x)) == 0x01 {
		return binary.LittleEndian
	}

	return binary.BigEndian
}()

// Magic words identifying the file format.
const (
	// magicOld marks databases written by historic versions. Readable;
	// never written.
	magicOld uint32 = 0x13579ace

	// magicStandard marks the standard format.
	magicStandard uint32 = 0x13579acd

	// magicNumSync marks the extended format carrying {version, numsync}.
	magicNumSync uint32 = 0x13579acf
)

// Version stored in the extended header.
const numSyncVersion = 1

// bswap32 returns v with its bytes reversed, used to detect databases
// written on a machine with the opposite byte order.
func bswap32(v uint32) uint32 {
	return bits.ReverseBytes32(v)
}

// knownMagic reports whether m identifies a readable format.
func knownMagic(m uint32) bool {
	return m == magicStandard || m == magicNumSync || m == magicOld
}

// header is the in-memory image of the fixed header fields.
//
// The inline master avail block that fills the remainder of the header
// block is kept separately (see [availBlock]).
type header struct {
	Magic       uint32
	BlockSize   uint32
	Dir         uint64
	DirSize     uint32
	DirBits     uint32
	BucketSize  uint32
	BucketElems uint32
	NextBlock   uint64

	// Extended format only.
	Version uint32
	NumSync uint32
}

// extended reports whether the header carries the numsync fields.
func (h *header) extended() bool {
	return h.Magic == magicNumSync
}

// fixedSize returns the byte length of the fixed header fields; the
// inline master avail block starts here.
func (h *header) fixedSize() int {
	if h.extended() {
		return extHeaderSize
	}

	return stdHeaderSize
}

// availCapacity returns the master avail table capacity for a header
// with the given fixed size and block size.
func availCapacity(fixedSize, blockSize int) int {
	return (blockSize - fixedSize - availHeaderSize) / availElemSize
}

// Header field offsets (bytes from file start).
const (
	offMagic       = 0
	offBlockSize   = 4
	offDir         = 8
	offDirSize     = 16
	offDirBits     = 20
	offBucketSize  = 24
	offBucketElems = 28
	offNextBlock   = 32
	offVersion     = 40 // extended only
	offNumSync     = 44 // extended only
)

// encodeHeader serializes the fixed header fields and the inline master
// avail block into a full header block of h.BlockSize bytes.
func encodeHeader(h *header, av *availBlock) []byte {
	buf := make([]byte, h.BlockSize)

	hostOrder.PutUint32(buf[offMagic:], h.Magic)
	hostOrder.PutUint32(buf[offBlockSize:], h.BlockSize)
	hostOrder.PutUint64(buf[offDir:], h.Dir)
	hostOrder.PutUint32(buf[offDirSize:], h.DirSize)
	hostOrder.PutUint32(buf[offDirBits:], h.DirBits)
	hostOrder.PutUint32(buf[offBucketSize:], h.BucketSize)
	hostOrder.PutUint32(buf[offBucketElems:], h.BucketElems)
	hostOrder.PutUint64(buf[offNextBlock:], h.NextBlock)

	if h.extended() {
		hostOrder.PutUint32(buf[offVersion:], h.Version)
		hostOrder.PutUint32(buf[offNumSync:], h.NumSync)
		// Two reserved words through offset 56 stay zero.
	}

	encodeAvailBlock(buf[h.fixedSize():], av)

	return buf
}

// decodeHeader parses a full header block. The caller has already
// verified the magic and block size via peekHeader.
func decodeHeader(buf []byte) (*header, *availBlock, error) {
	h := &header{
		Magic:       hostOrder.Uint32(buf[offMagic:]),
		BlockSize:   hostOrder.Uint32(buf[offBlockSize:]),
		Dir:         hostOrder.Uint64(buf[offDir:]),
		DirSize:     hostOrder.Uint32(buf[offDirSize:]),
		DirBits:     hostOrder.Uint32(buf[offDirBits:]),
		BucketSize:  hostOrder.Uint32(buf[offBucketSize:]),
		BucketElems: hostOrder.Uint32(buf[offBucketElems:]),
		NextBlock:   hostOrder.Uint64(buf[offNextBlock:]),
	}

	if h.extended() {
		h.Version = hostOrder.Uint32(buf[offVersion:])
		h.NumSync = hostOrder.Uint32(buf[offNumSync:])

		if h.Version != numSyncVersion {
			return nil, nil, fmt.Errorf("extended header version %d: %w", h.Version, ErrBadHeader)
		}
	}

	av, err := decodeAvailBlock(buf[h.fixedSize():])
	if err != nil {
		return nil, nil, err
	}

	return h, av, nil
}

// validate checks the header invariants that do not require file I/O.
func (h *header) validate() error {
	bs := h.BlockSize

	switch {
	case bs < minBlockSize || bs > maxBlockSize || bs&(bs-1) != 0:
		return fmt.Errorf("block size %d: %w", bs, ErrBadHeader)
	case bs%slotSize != 0:
		return fmt.Errorf("block size %d not a multiple of the slot size: %w", bs, ErrBadHeader)
	case h.DirBits == 0 || h.DirBits > hashBits:
		return fmt.Errorf("dir bits %d: %w", h.DirBits, ErrBadHeader)
	case uint64(h.DirSize) != uint64(dirEntrySize)<<h.DirBits:
		return fmt.Errorf("dir size %d does not match dir bits %d: %w", h.DirSize, h.DirBits, ErrBadHeader)
	case h.DirSize >= maxDirSize:
		return fmt.Errorf("dir size %d: %w", h.DirSize, ErrBadHeader)
	case h.Dir < uint64(bs):
		return fmt.Errorf("dir offset %d inside header block: %w", h.Dir, ErrBadHeader)
	case h.BucketElems == 0:
		return fmt.Errorf("zero bucket elems: %w", ErrBadHeader)
	case uint64(h.BucketSize) != bucketHeaderSize+uint64(h.BucketElems)*slotSize:
		return fmt.Errorf("bucket size %d does not match %d elems: %w", h.BucketSize, h.BucketElems, ErrBadHeader)
	case h.BucketSize > bs:
		return fmt.Errorf("bucket size %d exceeds block size %d: %w", h.BucketSize, bs, ErrBadHeader)
	case uint64(h.fixedSize())+availHeaderSize > uint64(bs):
		return fmt.Errorf("header does not fit block: %w", ErrBadHeader)
	case h.Dir+uint64(h.DirSize) < h.Dir || h.Dir+uint64(h.DirSize) > h.NextBlock:
		return fmt.Errorf("directory [%d,+%d) outside file watermark %d: %w", h.Dir, h.DirSize, h.NextBlock, ErrBadHeader)
	}

	return nil
}

// dirCount returns the number of directory entries.
func (h *header) dirCount() int {
	return 1 << h.DirBits
}

// availElem describes one free region of the file.
type availElem struct {
	Size uint64
	Adr  uint64
}

// availBlock is a pool of free regions sorted ascending by size.
// The master pool lives inline in the header block and chains through
// NextBlock to overflow blocks; per-bucket pools embed a fixed table.
type availBlock struct {
	// Size is the table capacity in elements.
	Size int

	// NextBlock is the file offset of the next overflow block, or zero.
	NextBlock uint64

	// Table holds the live elements; len(Table) is the live count.
	Table []availElem
}

// count returns the number of live elements.
func (av *availBlock) count() int {
	return len(av.Table)
}

// availBlockBytes returns the on-disk length of an avail block with capacity n.
func availBlockBytes(n int) int {
	return availHeaderSize + n*availElemSize
}

// encodeAvailBlock serializes av into buf, which must hold at least
// availBlockBytes(av.Size) bytes.
func encodeAvailBlock(buf []byte, av *availBlock) {
	hostOrder.PutUint32(buf[0:], uint32(av.Size))
	hostOrder.PutUint32(buf[4:], uint32(len(av.Table)))
	hostOrder.PutUint64(buf[8:], av.NextBlock)

	off := availHeaderSize
	for _, e := range av.Table {
		hostOrder.PutUint64(buf[off:], e.Size)
		hostOrder.PutUint64(buf[off+8:], e.Adr)
		off += availElemSize
	}
}

// decodeAvailBlock parses an avail block from buf. The capacity and
// count are bounds-checked against the buffer; element validity is
// checked separately against the header watermark.
func decodeAvailBlock(buf []byte) (*availBlock, error) {
	if len(buf) < availHeaderSize {
		return nil, fmt.Errorf("avail block truncated: %w", ErrBadAvail)
	}

	size := int(hostOrder.Uint32(buf[0:]))
	count := int(hostOrder.Uint32(buf[4:]))
	next := hostOrder.Uint64(buf[8:])

	if size <= 0 || count < 0 || count > size {
		return nil, fmt.Errorf("avail block size %d count %d: %w", size, count, ErrBadAvail)
	}

	// The capacity is bounded by the block it lives in; a larger value
	// is corruption, caught before it can size an allocation.
	if size > maxBlockSize/availElemSize {
		return nil, fmt.Errorf("avail block capacity %d: %w", size, ErrBadAvail)
	}

	if availHeaderSize+count*availElemSize > len(buf) {
		return nil, fmt.Errorf("avail block count %d overruns block: %w", count, ErrBadAvail)
	}

	av := &availBlock{
		Size:      size,
		NextBlock: next,
		Table:     make([]availElem, 0, size),
	}

	off := availHeaderSize
	for i := 0; i < count; i++ {
		av.Table = append(av.Table, availElem{
			Size: hostOrder.Uint64(buf[off:]),
			Adr:  hostOrder.Uint64(buf[off+8:]),
		})
		off += availElemSize
	}

	return av, nil
}

// slot is one bucket element. A slot is live iff Hash >= 0; -1 marks an
// empty slot and is never produced by the hash function.
type slot struct {
	Hash     int32
	KeyStart [smallKey]byte
	DataPtr  uint64
	KeySize  uint32
	DataSize uint32
}

// bucket is the in-memory image of one hash bucket.
type bucket struct {
	// Avail holds the bucket's free-space table; len(Avail) is the live
	// count, capacity is bucketAvail.
	Avail []availElem

	// Bits is the bucket's local depth: the number of hash prefix bits
	// shared by every key in it. Always <= the directory's bits.
	Bits int

	// Count is the number of live slots.
	Count int

	// Table is the slot table of the header's BucketElems entries.
	Table []slot
}

// newBucket returns an empty bucket with local depth bits and a slot
// table of elems entries, all marked empty.
func newBucket(elems int, bits int) *bucket {
	b := &bucket{
		Avail: make([]availElem, 0, bucketAvail),
		Bits:  bits,
		Table: make([]slot, elems),
	}

	for i := range b.Table {
		b.Table[i].Hash = -1
	}

	return b
}

// encodeBucket serializes b into a bucketSize-byte image.
func encodeBucket(b *bucket, bucketSize int) []byte {
	buf := make([]byte, bucketSize)

	hostOrder.PutUint32(buf[0:], uint32(len(b.Avail)))
	// 4 reserved bytes.
	off := 8
	for i := 0; i < bucketAvail; i++ {
		if i < len(b.Avail) {
			hostOrder.PutUint64(buf[off:], b.Avail[i].Size)
			hostOrder.PutUint64(buf[off+8:], b.Avail[i].Adr)
		}

		off += availElemSize
	}

	hostOrder.PutUint32(buf[off:], uint32(b.Bits))
	hostOrder.PutUint32(buf[off+4:], uint32(b.Count))
	off += 8

	for i := range b.Table {
		s := &b.Table[i]
		hostOrder.PutUint32(buf[off:], uint32(s.Hash))
		copy(buf[off+4:off+4+smallKey], s.KeyStart[:])
		hostOrder.PutUint64(buf[off+16:], s.DataPtr)
		hostOrder.PutUint32(buf[off+24:], s.KeySize)
		hostOrder.PutUint32(buf[off+28:], s.DataSize)
		off += slotSize
	}

	return buf
}

// decodeBucket parses a bucket image of elems slots. Structural
// validation against the header happens in the cache's read path.
func decodeBucket(buf []byte, elems int) (*bucket, error) {
	if len(buf) < bucketHeaderSize+elems*slotSize {
		return nil, fmt.Errorf("bucket truncated: %w", ErrBadBucket)
	}

	avCount := int(hostOrder.Uint32(buf[0:]))
	if avCount < 0 || avCount > bucketAvail {
		return nil, fmt.Errorf("bucket avail count %d: %w", avCount, ErrBadAvail)
	}

	b := &bucket{
		Avail: make([]availElem, 0, bucketAvail),
		Table: make([]slot, elems),
	}

	off := 8
	for i := 0; i < bucketAvail; i++ {
		if i < avCount {
			b.Avail = append(b.Avail, availElem{
				Size: hostOrder.Uint64(buf[off:]),
				Adr:  hostOrder.Uint64(buf[off+8:]),
			})
		}

		off += availElemSize
	}

	b.Bits = int(int32(hostOrder.Uint32(buf[off:])))
	b.Count = int(int32(hostOrder.Uint32(buf[off+4:])))
	off += 8

	for i := range b.Table {
		s := &b.Table[i]
		s.Hash = int32(hostOrder.Uint32(buf[off:]))
		copy(s.KeyStart[:], buf[off+4:off+4+smallKey])
		s.DataPtr = hostOrder.Uint64(buf[off+16:])
		s.KeySize = hostOrder.Uint32(buf[off+24:])
		s.DataSize = hostOrder.Uint32(buf[off+28:])
		off += slotSize
	}

	return b, nil
}

// encodeDir serializes the directory.
func encodeDir(dir []uint64) []byte {
	buf := make([]byte, len(dir)*dirEntrySize)
	for i, adr := range dir {
		hostOrder.PutUint64(buf[i*dirEntrySize:], adr)
	}

	return buf
}

// decodeDir parses a directory of count entries.
func decodeDir(buf []byte, count int) ([]uint64, error) {
	if len(buf) < count*dirEntrySize {
		return nil, fmt.Errorf("directory truncated: %w", ErrBadHashTable)
	}

	dir := make([]uint64, count)
	for i := range dir {
		dir[i] = hostOrder.Uint64(buf[i*dirEntrySize:])
	}

	return dir, nil
}

// Safe integer conversion bounds.
const maxInt64 = int64(math.MaxInt64)

// uint64ToInt64Checked converts a file offset or length to int64 for
// the io.ReaderAt/WriterAt APIs, rejecting values that would overflow.
func uint64ToInt64Checked(v uint64) (int64, error) {
	if v > uint64(maxInt64) {
		return 0, fmt.Errorf("offset %d exceeds int64: %w", v, ErrBadHashEntry)
	}

	return int64(v), nil
}
