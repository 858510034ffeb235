package bucketdb

import (
	"bytes"
	"fmt"
)

// slotPrefixMatches compares key against the bytes of it inlined in the
// slot, a cheap negative filter before the payload read.
func slotPrefixMatches(s *slot, key []byte) bool {
	n := len(key)
	if n > smallKey {
		n = smallKey
	}

	return bytes.Equal(s.KeyStart[:n], key[:n])
}

// readKeyAt returns the full key bytes of slot s, read directly from
// the payload area (payloads are never cached).
func (db *DB) readKeyAt(s *slot) ([]byte, error) {
	if s.DataPtr < uint64(db.hdr.BlockSize) {
		return nil, db.setErr(fmt.Errorf("payload pointer %d inside header block: %w", s.DataPtr, ErrBadHashEntry))
	}

	buf := make([]byte, s.KeySize)

	if err := db.fullReadAt(buf, s.DataPtr); err != nil {
		return nil, db.fatal(err)
	}

	return buf, nil
}

// findKey locates key (with precomputed hash) in the current bucket by
// linear probing from its home slot. Returns the slot index or
// [ErrItemNotFound]; an empty slot terminates the search.
func (db *DB) findKey(key []byte, hash int32) (int, error) {
	b := db.current.b
	elems := len(b.Table)
	loc := int(hash) % elems

	for probes := 0; probes < elems; probes++ {
		s := &b.Table[loc]

		if s.Hash == -1 {
			return 0, ErrItemNotFound
		}

		if s.Hash == hash && int(s.KeySize) == len(key) && slotPrefixMatches(s, key) {
			full, err := db.readKeyAt(s)
			if err != nil {
				return 0, err
			}

			if bytes.Equal(full, key) {
				return loc, nil
			}
		}

		loc = (loc + 1) % elems
	}

	return 0, ErrItemNotFound
}
