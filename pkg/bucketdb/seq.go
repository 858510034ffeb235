package bucketdb

import (
	"errors"
)

// Iteration visits buckets in directory order, skipping the duplicate
// directory entries that point at the same bucket, and slots in index
// order within each bucket. The order is unrelated to key order and is
// not stable under concurrent mutation: a store that splits a visited
// bucket may cause keys to be seen twice or skipped.

// FirstKey returns the key in the first non-empty slot of the scan
// order, or [ErrItemNotFound] on an empty database. The returned
// buffer is owned by the caller.
func (db *DB) FirstKey() ([]byte, error) {
	if err := db.usable(); err != nil {
		return nil, err
	}

	return db.scanFrom(0, -1)
}

// NextKey resumes the scan after key, which must currently exist.
// Returns [ErrItemNotFound] when key is absent or the scan is done.
func (db *DB) NextKey(key []byte) ([]byte, error) {
	if err := db.usable(); err != nil {
		return nil, err
	}

	hash, dirIndex, _ := db.hashPlacement(key)

	if err := db.getBucket(dirIndex); err != nil {
		return nil, err
	}

	loc, err := db.findKey(key, hash)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}

		return nil, err
	}

	return db.scanFrom(db.bucketDir, loc)
}

// Count returns the exact number of live keys by summing the counts of
// every distinct bucket.
func (db *DB) Count() (uint64, error) {
	if err := db.usable(); err != nil {
		return 0, err
	}

	var total uint64

	dirIndex := 0
	for {
		if err := db.getBucket(dirIndex); err != nil {
			return 0, err
		}

		total += uint64(db.current.b.Count)

		next, ok := db.nextBucketDir(dirIndex)
		if !ok {
			return total, nil
		}

		dirIndex = next
	}
}

// scanFrom returns the first live key after slot afterSlot of the
// bucket at dirIndex, continuing into later buckets as needed.
func (db *DB) scanFrom(dirIndex, afterSlot int) ([]byte, error) {
	for {
		if err := db.getBucket(dirIndex); err != nil {
			return nil, err
		}

		b := db.current.b

		for i := afterSlot + 1; i < len(b.Table); i++ {
			if b.Table[i].Hash >= 0 {
				return db.readKeyAt(&b.Table[i])
			}
		}

		next, ok := db.nextBucketDir(dirIndex)
		if !ok {
			return nil, ErrItemNotFound
		}

		dirIndex = next
		afterSlot = -1
	}
}

// nextBucketDir returns the first directory index past the run of
// entries sharing the current bucket, or false at the end of the
// directory. The run length follows from the bucket's local depth:
// 2^(dir_bits - bucket_bits) aligned consecutive entries.
func (db *DB) nextBucketDir(dirIndex int) (int, bool) {
	shift := db.hdr.DirBits - uint32(db.current.b.Bits)
	next := ((dirIndex >> shift) + 1) << shift

	if next >= db.hdr.dirCount() {
		return 0, false
	}

	return next, true
}
