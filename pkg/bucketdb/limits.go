package bucketdb

// Hardcoded format and implementation limits.
//
// The format constants are load-bearing: changing any of them changes
// the on-disk layout. The implementation limits keep arithmetic safely
// away from overflow boundaries and bound resource usage.
const (
	// Smallest and largest accepted block size. Both are powers of two;
	// every accepted block size is a power of two in this range and a
	// multiple of slotSize.
	minBlockSize = 512
	maxBlockSize = 64 * 1024

	// Bytes of each key inlined in its slot for fast negative matches.
	smallKey = 12

	// On-disk size of one slot (hash + inline prefix + pointer + sizes).
	slotSize = 32

	// Per-bucket free-space table capacity.
	bucketAvail = 6

	// On-disk size of one avail element {av_size, av_adr}.
	availElemSize = 16

	// On-disk size of an avail block's fixed fields {size, count, next}.
	availHeaderSize = 16

	// Fixed bucket fields: av_count + reserved + avail table + bits + count.
	bucketHeaderSize = 4 + 4 + bucketAvail*availElemSize + 4 + 4

	// Fixed header fields for the standard and extended formats.
	stdHeaderSize = 40
	extHeaderSize = 56

	// Width of the key hash. Hash values are non-negative 31-bit ints;
	// -1 marks an empty slot.
	hashBits = 31

	// Allocation remainders smaller than this are abandoned rather than
	// returned to an avail pool.
	minAvailSize = availElemSize

	// The directory may not grow beyond half the maximum representable
	// directory size, leaving room for the final doubling.
	maxDirSize     = 1 << 31
	maxDirHalfSize = maxDirSize / 2

	// Directory entries are uint64 file offsets.
	dirEntrySize = 8

	// Initial capacity of the bucket cache in auto-grow mode.
	initialCacheSize = 16

	// Smallest usable cache capacity. A split holds three buckets at
	// once (the full bucket and its two halves), so the cache must
	// never be forced to evict one of them mid-split.
	minCacheSize = 4

	// AutoCacheSize is the sentinel accepted by [Options.CacheSize] and
	// [DB.SetCacheSize] that selects auto-growing cache capacity.
	AutoCacheSize = 0
)
