package bucketdb

import (
	"fmt"
)

// split divides the current (full) bucket until the key hashing to
// nextInsert fits. Each round allocates two buckets of local depth one
// deeper, doubles the directory first if that depth would exceed it,
// redistributes the slots by the next hash bit, splits the old
// bucket's avail pool between the halves, rewrites the directory run,
// and only then releases the old bucket's file region. A single store
// can require several rounds when every redistributed slot lands in
// the same half.
func (db *DB) split(nextInsert int32) error {
	// Directory regions scheduled for release once the loop commits.
	var oldDirs []availElem

	elems := int(db.hdr.BucketElems)

	for db.current.b.Count == elems {
		old := db.current
		newBits := old.b.Bits + 1

		// Two fresh buckets, linked right behind the current entry so
		// the dirty entries stay a contiguous prefix of the MRU list.
		adr0, err := db.alloc(uint64(db.hdr.BucketSize))
		if err != nil {
			return err
		}

		elem0, found, err := db.cacheLookup(adr0, old)
		if err != nil {
			return err
		}

		if found {
			return db.setErr(fmt.Errorf("fresh bucket at %d already cached: %w", adr0, ErrBucketCacheCorrupted))
		}

		elem0.b = newBucket(elems, newBits)

		adr1, err := db.alloc(uint64(db.hdr.BucketSize))
		if err != nil {
			return err
		}

		elem1, found, err := db.cacheLookup(adr1, elem0)
		if err != nil {
			return err
		}

		if found {
			return db.setErr(fmt.Errorf("fresh bucket at %d already cached: %w", adr1, ErrBucketCacheCorrupted))
		}

		elem1.b = newBucket(elems, newBits)

		// Double the directory when the bucket has reached its depth.
		if newBits > int(db.hdr.DirBits) {
			if db.hdr.DirSize >= maxDirHalfSize {
				return db.setErr(ErrDirOverflow)
			}

			newDirSize := db.hdr.DirSize * 2

			dirAdr, err := db.alloc(uint64(newDirSize))
			if err != nil {
				return err
			}

			newDir := make([]uint64, 2*len(db.dir))
			for i, adr := range db.dir {
				newDir[2*i] = adr
				newDir[2*i+1] = adr
			}

			oldDirs = append(oldDirs, availElem{Size: uint64(db.hdr.DirSize), Adr: db.hdr.Dir})

			db.hdr.Dir = dirAdr
			db.hdr.DirSize = newDirSize
			db.hdr.DirBits++
			db.headerChanged = true

			db.bucketDir *= 2
			db.dir = newDir
			db.dirChanged = true
		}

		// Redistribute every slot by the newly significant hash bit.
		for i := range old.b.Table {
			s := old.b.Table[i]

			if s.Hash < 0 {
				return db.setErr(fmt.Errorf("empty slot in full bucket: %w", ErrBadBucket))
			}

			target := elem0
			if (uint32(s.Hash)>>(hashBits-uint32(newBits)))&1 == 1 {
				target = elem1
			}

			if err := insertSlot(target.b, s); err != nil {
				return db.setErr(err)
			}
		}

		// The second bucket starts with one fresh block of free space;
		// the first inherits the old bucket's pool, spilling an element
		// over when it is brim full.
		blockAdr, err := db.alloc(uint64(db.hdr.BlockSize))
		if err != nil {
			return err
		}

		putAvElem(availElem{Size: uint64(db.hdr.BlockSize), Adr: blockAdr}, &elem1.b.Avail, bucketAvail, false)

		inherit := old.b.Avail
		if len(inherit) == bucketAvail {
			putAvElem(inherit[0], &elem1.b.Avail, bucketAvail, db.coalesce)
			inherit = inherit[1:]
		}

		elem0.b.Avail = append(elem0.b.Avail[:0], inherit...)

		// Rewrite the directory run that pointed at the old bucket:
		// lower half to the first bucket, upper half to the second.
		shift := db.hdr.DirBits - uint32(newBits)
		dirStart1 := ((db.bucketDir >> shift) | 1) << shift
		dirEnd := dirStart1 + 1<<shift
		dirStart0 := dirStart1 - (dirEnd - dirStart1)

		for i := dirStart0; i < dirStart1; i++ {
			db.dir[i] = adr0
		}

		for i := dirStart1; i < dirEnd; i++ {
			db.dir[i] = adr1
		}

		elem0.changed = true
		elem1.changed = true
		db.dirChanged = true
		db.headerChanged = true

		// Finalize the cache before touching the old region: re-aim the
		// current entry at whichever half covers the inserting key, so
		// there is no window where it points at freed storage.
		db.bucketDir = db.bucketDirIndex(nextInsert)

		oldRegion := availElem{Size: uint64(db.hdr.BucketSize), Adr: old.adr}
		db.cacheRemove(old)

		target, other := elem0, elem1
		if db.dir[db.bucketDir] != adr0 {
			target, other = elem1, elem0
		}

		db.cache.unlink(target)
		db.cache.linkAfter(target, nil)
		db.current = target

		// The old bucket's storage goes to the non-current half's pool.
		putAvElem(oldRegion, &other.b.Avail, bucketAvail, db.coalesce)
	}

	for _, d := range oldDirs {
		if err := db.free(d.Adr, d.Size); err != nil {
			return err
		}
	}

	return nil
}
