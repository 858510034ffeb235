package bucketdb

import (
	"fmt"
)

// OpenMode selects how [Open] treats the database file.
type OpenMode int

// Open modes.
const (
	// Reader opens an existing database read-only with a shared lock.
	Reader OpenMode = iota

	// Writer opens an existing database read-write with an exclusive
	// lock.
	Writer

	// WrCreate is [Writer], creating the database if it does not exist.
	WrCreate

	// NewDB creates an empty database, truncating any existing file.
	NewDB
)

// String returns the mode name for diagnostics.
func (m OpenMode) String() string {
	switch m {
	case Reader:
		return "reader"
	case Writer:
		return "writer"
	case WrCreate:
		return "wrcreate"
	case NewDB:
		return "newdb"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// StoreMode selects the behavior of [DB.Store] for existing keys.
type StoreMode int

// Store modes.
const (
	// Insert fails with [ErrCannotReplace] if the key exists.
	Insert StoreMode = iota

	// Replace overwrites an existing value.
	Replace
)

// Format identifies the on-disk header format.
type Format int

// Header formats.
const (
	// Standard is the base format.
	Standard Format = iota

	// NumSync is the extended format carrying a version field and a
	// monotonically increasing sync counter used by snapshot selection.
	NumSync
)

// Options configure opening or creating a database.
//
// Only Path and Mode are required. The remaining fields select the
// creation-time format (BlockSize, NumSyncFormat), the runtime tunables
// (CacheSize, Sync, CentralFree, CoalesceBlocks, MmapMax), and escape
// hatches (NoLock, NoMmap).
type Options struct {
	// Path is the database file. Required.
	Path string

	// Mode selects reader/writer/create behavior.
	Mode OpenMode

	// BlockSize is the block size used when creating a database.
	// Zero selects the filesystem's preferred I/O size. Non-zero values
	// are clamped to [512, 64 KiB] and then rounded up to a power of two
	// (always a multiple of the slot size), unless ExactBlockSize is set,
	// in which case an unusable value fails with [ErrBadOpenFlags].
	// Ignored when opening an existing database (the file wins).
	BlockSize int

	// ExactBlockSize rejects rather than rounds an unusable BlockSize.
	ExactBlockSize bool

	// FileMode is the permission for a created database file.
	// Zero defaults to 0o600.
	FileMode uint32

	// NumSyncFormat creates the database in the extended format.
	// Ignored when opening an existing database.
	NumSyncFormat bool

	// Sync forces a full sync after every mutation.
	Sync bool

	// NoLock skips the advisory file lock. The caller accepts
	// responsibility for external mutual exclusion.
	NoLock bool

	// NoMmap disables the memory-mapped I/O path.
	NoMmap bool

	// CloseOnExec is accepted for compatibility; descriptors opened by
	// this package are always close-on-exec.
	CloseOnExec bool

	// CacheSize fixes the bucket cache capacity in entries.
	// [AutoCacheSize] (the zero value) selects auto-growing capacity.
	CacheSize int

	// CentralFree returns freed space to the master avail pool instead
	// of the current bucket's pool.
	CentralFree bool

	// CoalesceBlocks merges adjacent avail elements on free.
	CoalesceBlocks bool

	// MmapMax caps the bytes mapped by the mmap path. Zero selects the
	// default (1 GiB).
	MmapMax uint64
}

// Default ceiling for the mmap window.
const defaultMmapMax = 1 << 30

// validate checks option consistency before any file is touched.
func (o *Options) validate() error {
	if o.Path == "" {
		return ErrNoDBName
	}

	if o.Mode < Reader || o.Mode > NewDB {
		return fmt.Errorf("unknown open mode %d: %w", int(o.Mode), ErrBadOpenFlags)
	}

	if o.CacheSize < 0 {
		return fmt.Errorf("cache size %d: %w", o.CacheSize, ErrOptBadVal)
	}

	if o.BlockSize < 0 {
		return fmt.Errorf("block size %d: %w", o.BlockSize, ErrBadOpenFlags)
	}

	if o.Mode == Reader && o.Sync {
		return fmt.Errorf("sync mode on a reader: %w", ErrBadOpenFlags)
	}

	return nil
}

// normalizeBlockSize applies the clamping/rounding rules to a
// creation-time block size request. fsBlockSize is the filesystem's
// preferred I/O size, used when the request is zero.
func normalizeBlockSize(request, fsBlockSize int, exact bool) (int, error) {
	bs := request
	if bs == 0 {
		bs = fsBlockSize
	}

	if bs < minBlockSize {
		if exact && request != 0 {
			return 0, fmt.Errorf("block size %d below minimum %d: %w", request, minBlockSize, ErrBadOpenFlags)
		}

		bs = minBlockSize
	}

	if bs > maxBlockSize {
		if exact && request != 0 {
			return 0, fmt.Errorf("block size %d above maximum %d: %w", request, maxBlockSize, ErrBadOpenFlags)
		}

		bs = maxBlockSize
	}

	if bs&(bs-1) != 0 {
		if exact {
			return 0, fmt.Errorf("block size %d is not a power of two: %w", request, ErrBadOpenFlags)
		}

		p := minBlockSize
		for p < bs {
			p <<= 1
		}

		bs = p
	}

	// Powers of two >= 512 are always multiples of slotSize; keep the
	// check anyway so a change to slotSize cannot silently break the
	// layout invariant.
	if bs%slotSize != 0 {
		return 0, fmt.Errorf("block size %d is not a multiple of the slot size: %w", bs, ErrBadOpenFlags)
	}

	return bs, nil
}

// SetCacheSize fixes the bucket cache capacity. The size may be set at
// most once per handle, either here or via [Options.CacheSize];
// [AutoCacheSize] selects auto-growing capacity. Shrinking below the
// current entry count flushes and evicts least-recently-used buckets.
func (db *DB) SetCacheSize(n int) error {
	if err := db.usable(); err != nil {
		return err
	}

	if n < 0 {
		return fmt.Errorf("cache size %d: %w", n, ErrOptBadVal)
	}

	if db.cacheSizeSet {
		return fmt.Errorf("cache size: %w", ErrOptAlreadySet)
	}

	db.cacheSizeSet = true

	return db.cache.resize(db, n)
}

// CacheSize returns the current cache capacity in entries.
func (db *DB) CacheSize() int {
	return db.cache.size
}

// SetSyncMode toggles fsync-after-every-mutation.
func (db *DB) SetSyncMode(on bool) error {
	if err := db.usable(); err != nil {
		return err
	}

	db.syncMode = on

	return nil
}

// SyncMode reports whether every mutation syncs.
func (db *DB) SyncMode() bool {
	return db.syncMode
}

// SetCentralFree routes freed blocks to the master avail pool.
func (db *DB) SetCentralFree(on bool) error {
	if err := db.usable(); err != nil {
		return err
	}

	db.centralFree = on

	return nil
}

// CentralFree reports whether freed blocks go to the master avail pool.
func (db *DB) CentralFree() bool {
	return db.centralFree
}

// SetCoalesceBlocks toggles merging of adjacent avail elements on free.
func (db *DB) SetCoalesceBlocks(on bool) error {
	if err := db.usable(); err != nil {
		return err
	}

	db.coalesce = on

	return nil
}

// CoalesceBlocks reports whether adjacent avail elements are merged.
func (db *DB) CoalesceBlocks() bool {
	return db.coalesce
}

// SetMmapMax caps the mmap window and remaps the file under the new
// ceiling. Zero restores the default.
func (db *DB) SetMmapMax(n uint64) error {
	if err := db.usable(); err != nil {
		return err
	}

	if n == 0 {
		n = defaultMmapMax
	}

	db.mmapMax = n

	if db.opts.NoMmap {
		return nil
	}

	return db.remap()
}

// MmapMax returns the mmap window ceiling.
func (db *DB) MmapMax() uint64 {
	return db.mmapMax
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.opts.Path
}

// Flags returns a copy of the options the handle was opened with.
func (db *DB) Flags() Options {
	return db.opts
}

// CacheStats reports bucket cache effectiveness counters.
type CacheStats struct {
	// Size is the current capacity in entries.
	Size int

	// Entries is the number of resident buckets.
	Entries int

	// Accesses counts cache lookups since open.
	Accesses uint64

	// Hits counts lookups satisfied without a disk read.
	Hits uint64
}

// CacheStats returns a snapshot of the cache counters.
func (db *DB) CacheStats() CacheStats {
	return CacheStats{
		Size:     db.cache.size,
		Entries:  db.cache.num,
		Accesses: db.cacheAccesses,
		Hits:     db.cacheHits,
	}
}

// LastError returns the most recent error recorded on the handle, or
// nil. Error state is strictly per-handle.
func (db *DB) LastError() error {
	return db.lastErr
}

// NeedsRecovery reports whether a fatal I/O or validation failure has
// poisoned the handle.
func (db *DB) NeedsRecovery() bool {
	return db.needRecovery
}

// setErr records err on the handle and returns it.
func (db *DB) setErr(err error) error {
	if err != nil {
		db.lastErr = err
	}

	return err
}

// fatal records err, poisons the handle, and returns err.
func (db *DB) fatal(err error) error {
	db.needRecovery = true

	return db.setErr(err)
}

// usable rejects operations on closed or nil handles.
func (db *DB) usable() error {
	if db == nil {
		return ErrUsage
	}

	if db.closed {
		return ErrClosed
	}

	return nil
}

// writable rejects mutations on readers and poisoned handles.
// kind is the reader-mode error to return.
func (db *DB) writable(kind error) error {
	if err := db.usable(); err != nil {
		return err
	}

	if db.readOnly {
		return db.setErr(kind)
	}

	if db.needRecovery {
		return db.setErr(ErrNeedRecovery)
	}

	return nil
}
