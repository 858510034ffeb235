package bucketdb

import (
	"fmt"
)

// validDirIndex reports whether dirIndex addresses the directory and
// its entry points past the header block. It does not guarantee a
// valid bucket at that offset, only that a cache lookup and a read
// attempt are safe.
func (db *DB) validDirIndex(dirIndex int) bool {
	return dirIndex >= 0 &&
		dirIndex < db.hdr.dirCount() &&
		db.dir[dirIndex] >= uint64(db.hdr.BlockSize)
}

// getBucket makes the bucket addressed by directory entry dirIndex the
// current bucket, reading it from disk on a cache miss. On error the
// current bucket is unchanged.
func (db *DB) getBucket(dirIndex int) error {
	if !db.validDirIndex(dirIndex) {
		return db.setErr(fmt.Errorf("directory index %d: %w", dirIndex, ErrBadDirEntry))
	}

	db.bucketDir = dirIndex
	adr := db.dir[dirIndex]

	if db.current != nil && db.current.adr == adr {
		return nil
	}

	elem, found, err := db.cacheLookup(adr, nil)
	if err != nil {
		return db.setErr(err)
	}

	if !found {
		buf := make([]byte, db.hdr.BucketSize)
		if err := db.fullReadAt(buf, adr); err != nil {
			db.cacheRemove(elem)

			return db.fatal(fmt.Errorf("read bucket at %d: %w", adr, err))
		}

		b, err := decodeBucket(buf, int(db.hdr.BucketElems))
		if err != nil {
			db.cacheRemove(elem)

			return db.setErr(err)
		}

		if err := db.validateBucket(b); err != nil {
			db.cacheRemove(elem)

			return db.setErr(err)
		}

		elem.b = b
		elem.changed = false
	}

	db.current = elem

	return nil
}

// validateBucket checks a bucket image read from disk against the
// header.
func (db *DB) validateBucket(b *bucket) error {
	if b.Count < 0 || b.Count > int(db.hdr.BucketElems) {
		return fmt.Errorf("bucket count %d of %d elems: %w", b.Count, db.hdr.BucketElems, ErrBadBucket)
	}

	if b.Bits < 0 || b.Bits > int(db.hdr.DirBits) {
		return fmt.Errorf("bucket bits %d with dir bits %d: %w", b.Bits, db.hdr.DirBits, ErrBadBucket)
	}

	return db.validateBucketAvail(b)
}

// writeBucket is the only place a bucket reaches the file. Failures
// poison the handle.
func (db *DB) writeBucket(elem *cacheElem) error {
	buf := encodeBucket(elem.b, int(db.hdr.BucketSize))

	if err := db.fullWriteAt(buf, elem.adr); err != nil {
		return db.fatal(fmt.Errorf("write bucket at %d: %w", elem.adr, err))
	}

	elem.changed = false

	return nil
}

// insertSlot places s into b by linear probing from its home slot.
// The caller guarantees a free slot exists. A negative hash is a
// structural impossibility and reports bucket corruption.
func insertSlot(b *bucket, s slot) error {
	if s.Hash < 0 {
		return fmt.Errorf("negative hash in live slot: %w", ErrBadBucket)
	}

	elems := len(b.Table)
	loc := int(s.Hash) % elems

	for b.Table[loc].Hash != -1 {
		loc = (loc + 1) % elems
	}

	b.Table[loc] = s
	b.Count++

	return nil
}
