package bucketdb

import (
	"errors"
)

// Delete removes key, or returns [ErrItemNotFound]. After clearing the
// slot, later entries of the same probe chain are moved back over the
// gap so that every remaining live slot stays reachable from its home
// slot without crossing an empty one.
func (db *DB) Delete(key []byte) error {
	if err := db.writable(ErrReaderDelete); err != nil {
		return err
	}

	hash, dirIndex, _ := db.hashPlacement(key)

	if err := db.getBucket(dirIndex); err != nil {
		return err
	}

	loc, err := db.findKey(key, hash)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}

		return err
	}

	b := db.current.b
	s := b.Table[loc]

	if err := db.free(s.DataPtr, uint64(s.KeySize)+uint64(s.DataSize)); err != nil {
		return err
	}

	b.Table[loc] = slot{Hash: -1}
	b.Count--

	compactChain(b, loc)

	db.current.changed = true

	return db.maybeSyncAfterMutation()
}

// compactChain repairs the probe chain after slot gap was emptied.
// Scanning forward to the first empty slot, any element whose home
// position does not lie cyclically within (gap, current] can only have
// been reached through the gap; it is moved into the gap, which then
// advances to the element's old position.
func compactChain(b *bucket, gap int) {
	elems := len(b.Table)
	j := gap

	for {
		j = (j + 1) % elems
		if j == gap {
			return
		}

		s := b.Table[j]
		if s.Hash == -1 {
			return
		}

		home := int(s.Hash) % elems
		if !cyclicWithin(gap, home, j) {
			b.Table[gap] = s
			b.Table[j] = slot{Hash: -1}
			gap = j
		}
	}
}

// cyclicWithin reports whether home lies in the cyclic half-open
// interval (gap, j].
func cyclicWithin(gap, home, j int) bool {
	if gap < j {
		return home > gap && home <= j
	}

	return home > gap || home <= j
}
