package bucketdb

import (
	"errors"
	"fmt"
)

// Store writes value under key. With [Insert] an existing key fails
// with [ErrCannotReplace]; with [Replace] it is overwritten. A
// zero-length value is legal, a zero-length key is not.
//
// Store never leaves a bucket half-split on the success path: splits
// (and any directory doubling) complete before the new slot is filled.
func (db *DB) Store(key, value []byte, mode StoreMode) error {
	if err := db.writable(ErrReaderStore); err != nil {
		return err
	}

	if len(key) == 0 {
		return db.setErr(fmt.Errorf("zero-length key: %w", ErrMalformedData))
	}

	hash, dirIndex, _ := db.hashPlacement(key)

	if err := db.getBucket(dirIndex); err != nil {
		return err
	}

	loc, err := db.findKey(key, hash)
	found := err == nil

	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return err
	}

	if found && mode == Insert {
		return ErrCannotReplace
	}

	if found {
		// Replace: release the old payload before allocating the new one
		// so the space can be reused immediately.
		s := &db.current.b.Table[loc]
		if err := db.free(s.DataPtr, uint64(s.KeySize)+uint64(s.DataSize)); err != nil {
			return err
		}
	} else if db.current.b.Count == int(db.hdr.BucketElems) {
		if err := db.split(hash); err != nil {
			return err
		}
	}

	adr, err := db.alloc(uint64(len(key)) + uint64(len(value)))
	if err != nil {
		return err
	}

	payload := make([]byte, 0, len(key)+len(value))
	payload = append(payload, key...)
	payload = append(payload, value...)

	if err := db.fullWriteAt(payload, adr); err != nil {
		return db.fatal(fmt.Errorf("write payload: %w", err))
	}

	s := slot{
		Hash:     hash,
		DataPtr:  adr,
		KeySize:  uint32(len(key)),
		DataSize: uint32(len(value)),
	}
	copy(s.KeyStart[:], key)

	if found {
		db.current.b.Table[loc] = s
	} else {
		if err := insertSlot(db.current.b, s); err != nil {
			return db.setErr(err)
		}
	}

	db.current.changed = true

	return db.maybeSyncAfterMutation()
}
