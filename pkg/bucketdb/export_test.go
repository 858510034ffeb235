package bucketdb

// Test-only access to engine internals, used by the external test
// package to check structural invariants that the public API cannot
// observe.

// HashKey exposes the key hash for placement-sensitive tests.
func HashKey(key []byte) int32 {
	return hashKey(key)
}

// DebugAvailElem mirrors availElem for assertions.
type DebugAvailElem struct {
	Size uint64
	Adr  uint64
}

// DebugDirtyPrefixOK reports whether the cache's dirty entries form a
// contiguous prefix of the MRU list.
func (db *DB) DebugDirtyPrefixOK() bool {
	seenClean := false

	for elem := db.cache.mru; elem != nil; elem = elem.next {
		if elem.changed && seenClean {
			return false
		}

		if !elem.changed {
			seenClean = true
		}
	}

	return true
}

// DebugCacheEntries returns the resident bucket count.
func (db *DB) DebugCacheEntries() int {
	return db.cache.num
}

// DebugDirBits returns the directory's global depth.
func (db *DB) DebugDirBits() int {
	return int(db.hdr.DirBits)
}

// DebugDir returns a copy of the directory.
func (db *DB) DebugDir() []uint64 {
	return append([]uint64(nil), db.dir...)
}

// DebugBucketBits loads the bucket for a directory index and returns
// its local depth.
func (db *DB) DebugBucketBits(dirIndex int) (int, error) {
	if err := db.getBucket(dirIndex); err != nil {
		return 0, err
	}

	return db.current.b.Bits, nil
}

// DebugBucketSlots loads a bucket and returns its live slot hashes in
// table order (-1 for empty slots).
func (db *DB) DebugBucketSlots(dirIndex int) ([]int32, error) {
	if err := db.getBucket(dirIndex); err != nil {
		return nil, err
	}

	out := make([]int32, len(db.current.b.Table))
	for i := range db.current.b.Table {
		out[i] = db.current.b.Table[i].Hash
	}

	return out, nil
}

// DebugBucketElems returns the per-bucket slot capacity.
func (db *DB) DebugBucketElems() int {
	return int(db.hdr.BucketElems)
}

// DebugNextBlock returns the allocation watermark.
func (db *DB) DebugNextBlock() uint64 {
	return db.hdr.NextBlock
}

// DebugBlockSize returns the block size.
func (db *DB) DebugBlockSize() int {
	return int(db.hdr.BlockSize)
}

// DebugMasterAvail returns a copy of the inline master avail table.
func (db *DB) DebugMasterAvail() []DebugAvailElem {
	out := make([]DebugAvailElem, 0, db.avail.count())
	for _, e := range db.avail.Table {
		out = append(out, DebugAvailElem{Size: e.Size, Adr: e.Adr})
	}

	return out
}

// DebugBucketAvail loads a bucket and returns a copy of its avail
// table.
func (db *DB) DebugBucketAvail(dirIndex int) ([]DebugAvailElem, error) {
	if err := db.getBucket(dirIndex); err != nil {
		return nil, err
	}

	out := make([]DebugAvailElem, 0, len(db.current.b.Avail))
	for _, e := range db.current.b.Avail {
		out = append(out, DebugAvailElem{Size: e.Size, Adr: e.Adr})
	}

	return out, nil
}

// DebugAlloc and DebugFree expose the allocator for avail tests.
func (db *DB) DebugAlloc(n uint64) (uint64, error) {
	return db.alloc(n)
}

func (db *DB) DebugFree(adr, size uint64) error {
	return db.free(adr, size)
}

// DebugPoison marks the handle as needing recovery, as a fatal I/O
// error would.
func (db *DB) DebugPoison() {
	db.needRecovery = true
}

// SetIoctlFileClone swaps the reflink syscall for tests and returns a
// restore function.
func SetIoctlFileClone(fn func(destFd, srcFd int) error) func() {
	prev := ioctlFileClone
	ioctlFileClone = fn

	return func() { ioctlFileClone = prev }
}
