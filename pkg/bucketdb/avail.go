package bucketdb

import (
	"fmt"
	"sort"
)

// Free-space pools are arrays of [availElem] kept sorted ascending by
// size. Two pools exist: the per-bucket table (capacity [bucketAvail])
// and the master table inline in the header block, chained to overflow
// blocks through availBlock.NextBlock.

// putAvElem inserts e into the pool, which has the given capacity.
// With coalesce set, an element adjacent to e is merged in place
// instead; merging can leave the array unsorted by size, which the
// validation pass repairs lazily. Returns false if the pool is full and
// e could not be placed.
func putAvElem(e availElem, pool *[]availElem, capacity int, coalesce bool) bool {
	if e.Size == 0 {
		return true
	}

	tab := *pool

	if coalesce {
		for i := range tab {
			if tab[i].Adr+tab[i].Size == e.Adr {
				tab[i].Size += e.Size

				return true
			}

			if e.Adr+e.Size == tab[i].Adr {
				tab[i].Adr = e.Adr
				tab[i].Size += e.Size

				return true
			}
		}
	}

	if len(tab) >= capacity {
		return false
	}

	pos := sort.Search(len(tab), func(i int) bool { return tab[i].Size >= e.Size })

	tab = append(tab, availElem{})
	copy(tab[pos+1:], tab[pos:])
	tab[pos] = e

	*pool = tab

	return true
}

// getAvElem removes and returns the smallest element of at least size
// bytes. The pool is scanned in ascending size order, so the first fit
// is the best fit.
func getAvElem(pool *[]availElem, size uint64) (availElem, bool) {
	tab := *pool

	for i := range tab {
		if tab[i].Size >= size {
			e := tab[i]
			copy(tab[i:], tab[i+1:])
			*pool = tab[:len(tab)-1]

			return e, true
		}
	}

	return availElem{}, false
}

// validAvailTable checks every element of tab against the file bounds
// and, as a side effect, restores ascending size order if a historic
// coalescing pass clobbered it. The repair only happens on writable
// handles; a reader tolerates the unsorted table.
func validAvailTable(tab []availElem, blockSize uint32, nextBlock uint64, writable bool) error {
	var prev uint64

	needsSorting := false

	for i := range tab {
		e := tab[i]

		if e.Adr < uint64(blockSize) {
			return fmt.Errorf("avail element at %d inside header block: %w", e.Adr, ErrBadAvail)
		}

		if e.Adr+e.Size < e.Adr {
			return fmt.Errorf("avail element at %d overflows: %w", e.Adr, ErrBadAvail)
		}

		if e.Adr+e.Size > nextBlock {
			return fmt.Errorf("avail element [%d,+%d) beyond watermark %d: %w", e.Adr, e.Size, nextBlock, ErrBadAvail)
		}

		if e.Size < prev {
			needsSorting = true
		}

		prev = e.Size
	}

	if needsSorting && writable {
		sort.SliceStable(tab, func(i, j int) bool { return tab[i].Size < tab[j].Size })
	}

	return nil
}

// validateMasterAvail checks the inline master block against the
// header, including the capacity recorded on disk.
func (db *DB) validateMasterAvail() error {
	av := db.avail

	wantCap := availCapacity(db.hdr.fixedSize(), int(db.hdr.BlockSize))
	if av.Size != wantCap {
		return fmt.Errorf("master avail capacity %d, want %d: %w", av.Size, wantCap, ErrBadAvail)
	}

	return validAvailTable(av.Table, db.hdr.BlockSize, db.hdr.NextBlock, !db.readOnly)
}

// validateBucketAvail checks a bucket's avail table on read.
func (db *DB) validateBucketAvail(b *bucket) error {
	return validAvailTable(b.Avail, db.hdr.BlockSize, db.hdr.NextBlock, !db.readOnly)
}

// readAvailBlock reads and validates an overflow avail block at adr.
func (db *DB) readAvailBlock(adr uint64) (*availBlock, error) {
	hdr := make([]byte, availHeaderSize)
	if err := db.fullReadAt(hdr, adr); err != nil {
		return nil, err
	}

	size := int(hostOrder.Uint32(hdr[0:]))
	count := int(hostOrder.Uint32(hdr[4:]))

	if size <= 1 || count < 0 || count > size || size > maxBlockSize/availElemSize {
		return nil, fmt.Errorf("avail block at %d size %d count %d: %w", adr, size, count, ErrBadAvail)
	}

	buf := make([]byte, availBlockBytes(size))
	if err := db.fullReadAt(buf, adr); err != nil {
		return nil, err
	}

	av, err := decodeAvailBlock(buf)
	if err != nil {
		return nil, err
	}

	if err := validAvailTable(av.Table, db.hdr.BlockSize, db.hdr.NextBlock, !db.readOnly); err != nil {
		return nil, err
	}

	return av, nil
}

// writeAvailBlock writes an overflow avail block at adr. Overflow
// blocks are not cached; they go straight to the file.
func (db *DB) writeAvailBlock(adr uint64, av *availBlock) error {
	buf := make([]byte, availBlockBytes(av.Size))
	encodeAvailBlock(buf, av)

	return db.fullWriteAt(buf, adr)
}

// VerifyAvail walks the master avail chain, validating every block and
// element and detecting cycles via the set of visited offsets.
// Encountering an offset twice yields [ErrBadAvail].
func (db *DB) VerifyAvail() error {
	if err := db.usable(); err != nil {
		return err
	}

	if err := db.validateMasterAvail(); err != nil {
		return db.setErr(err)
	}

	seen := map[uint64]struct{}{0: {}}

	next := db.avail.NextBlock
	for next != 0 {
		if _, dup := seen[next]; dup {
			return db.setErr(fmt.Errorf("avail chain loops at %d: %w", next, ErrBadAvail))
		}

		seen[next] = struct{}{}

		blk, err := db.readAvailBlock(next)
		if err != nil {
			return db.setErr(err)
		}

		next = blk.NextBlock
	}

	return nil
}
