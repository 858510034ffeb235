package bucketdb

import (
	"errors"
	"fmt"
	"math/bits"
	"os"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/bucketdb/pkg/fs"
)

// Open opens or creates the database described by opts.
//
// [Reader] requires the file to exist and disables all mutating
// operations; [NewDB] truncates or creates; [WrCreate] creates if
// absent. See [Options] for the block-size rules and tunables.
//
// Failure kinds: [ErrBadMagic], [ErrByteSwapped], [ErrBadHeader],
// [ErrCannotLock], [ErrBadOpenFlags], and wrapped I/O errors.
func Open(opts Options) (*DB, error) {
	return OpenFS(fs.NewReal(), opts)
}

// OpenFS is [Open] with an injected filesystem. Production callers use
// [Open]; tests use OpenFS to exercise I/O failure paths.
func OpenFS(fsys fs.FS, opts Options) (*DB, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	db := &DB{
		opts:         opts,
		fsys:         fsys,
		readOnly:     opts.Mode == Reader,
		snapCur:      -1,
		syncMode:     opts.Sync,
		centralFree:  opts.CentralFree,
		coalesce:     opts.CoalesceBlocks,
		cacheSizeSet: opts.CacheSize != AutoCacheSize,
		mmapMax:      opts.MmapMax,
	}

	if db.mmapMax == 0 {
		db.mmapMax = defaultMmapMax
	}

	perm := os.FileMode(opts.FileMode)
	if perm == 0 {
		perm = 0o600
	}

	var flag int

	switch opts.Mode {
	case Reader:
		flag = os.O_RDONLY
	case Writer:
		flag = os.O_RDWR
	case WrCreate:
		flag = os.O_RDWR | os.O_CREATE
	case NewDB:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}

	file, err := fsys.OpenFile(opts.Path, flag, perm)
	if err != nil {
		if db.readOnly && errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", opts.Path, ErrCannotBeReader)
		}

		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}

	db.file = file

	ok := false
	defer func() {
		if !ok {
			db.releaseResources()
		}
	}()

	if !opts.NoLock {
		kind, err := lockFile(file, db.readOnly)
		if err != nil {
			return nil, err
		}

		db.lockKind = kind
	}

	size, err := db.fileSize()
	if err != nil {
		return nil, err
	}

	if size == 0 {
		if db.readOnly {
			return nil, fmt.Errorf("empty database: %w", ErrCannotBeReader)
		}

		if err := db.create(); err != nil {
			return nil, err
		}
	} else {
		if err := db.load(size); err != nil {
			return nil, err
		}
	}

	if !opts.NoMmap {
		if err := db.mapFile(); err != nil {
			return nil, err
		}
	}

	ok = true

	return db, nil
}

// fsPreferredBlockSize returns the filesystem's preferred I/O size for
// the open descriptor, already clamped to the accepted range.
func fsPreferredBlockSize(f fs.File) int {
	var st unix.Statfs_t
	if err := unix.Fstatfs(int(f.Fd()), &st); err != nil {
		return minBlockSize
	}

	bs := int(st.Bsize)
	if bs < minBlockSize {
		return minBlockSize
	}

	if bs > maxBlockSize {
		return maxBlockSize
	}

	return bs
}

// create lays out a fresh database: header block, directory block,
// and one empty bucket of local depth zero that every directory entry
// points to. The layout is written and synced before Open returns.
func (db *DB) create() error {
	bs, err := normalizeBlockSize(db.opts.BlockSize, fsPreferredBlockSize(db.file), db.opts.ExactBlockSize)
	if err != nil {
		return err
	}

	magic := magicStandard
	if db.opts.NumSyncFormat {
		magic = magicNumSync
	}

	dirBits := uint32(bits.Len(uint(bs/dirEntrySize)) - 1)
	elems := (bs - bucketHeaderSize) / slotSize

	db.hdr = &header{
		Magic:       magic,
		BlockSize:   uint32(bs),
		Dir:         uint64(bs),
		DirSize:     uint32(bs),
		DirBits:     dirBits,
		BucketSize:  uint32(bucketHeaderSize + elems*slotSize),
		BucketElems: uint32(elems),
		NextBlock:   2 * uint64(bs),
	}

	if db.hdr.extended() {
		db.hdr.Version = numSyncVersion
	}

	db.avail = &availBlock{
		Size: availCapacity(db.hdr.fixedSize(), bs),
	}

	db.cacheInit(db.opts.CacheSize)

	adr, err := db.alloc(uint64(db.hdr.BucketSize))
	if err != nil {
		return err
	}

	elem, _, err := db.cacheLookup(adr, nil)
	if err != nil {
		return err
	}

	elem.b = newBucket(elems, 0)
	elem.changed = true
	db.current = elem
	db.bucketDir = 0

	db.dir = make([]uint64, db.hdr.dirCount())
	for i := range db.dir {
		db.dir[i] = adr
	}

	db.headerChanged = true
	db.dirChanged = true

	return db.syncInternal()
}

// load reads and validates an existing database.
func (db *DB) load(fileSize uint64) error {
	head := make([]byte, 8)
	if err := db.fullReadAt(head, 0); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}

	magic := hostOrder.Uint32(head[0:])

	if !knownMagic(magic) {
		if knownMagic(bswap32(magic)) {
			return ErrByteSwapped
		}

		return ErrBadMagic
	}

	bs := hostOrder.Uint32(head[4:])
	if bs < minBlockSize || bs > maxBlockSize || bs&(bs-1) != 0 {
		return fmt.Errorf("block size %d: %w", bs, ErrBadHeader)
	}

	if uint64(bs) > fileSize {
		return fmt.Errorf("file shorter than one block: %w", ErrBadHeader)
	}

	buf := make([]byte, bs)
	if err := db.fullReadAt(buf, 0); err != nil {
		return fmt.Errorf("read header block: %w", err)
	}

	hdr, avail, err := decodeHeader(buf)
	if err != nil {
		return err
	}

	if err := hdr.validate(); err != nil {
		return err
	}

	db.hdr = hdr
	db.avail = avail

	if err := db.validateMasterAvail(); err != nil {
		return err
	}

	dirBuf := make([]byte, hdr.DirSize)
	if err := db.fullReadAt(dirBuf, hdr.Dir); err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	dir, err := decodeDir(dirBuf, hdr.dirCount())
	if err != nil {
		return err
	}

	db.dir = dir

	db.cacheInit(db.opts.CacheSize)

	return nil
}

// releaseResources frees everything Open acquired, on every exit path.
func (db *DB) releaseResources() {
	db.unmapFile()

	for i, f := range db.snapFiles {
		if f != nil {
			_ = f.Close()
			db.snapFiles[i] = nil
		}
	}

	db.snapCur = -1

	if db.file != nil {
		if db.lockKind != lockingNone {
			unlockFile(db.file, db.lockKind)
			db.lockKind = lockingNone
		}

		_ = db.file.Close()
		db.file = nil
	}

	db.cacheDrop()
}
