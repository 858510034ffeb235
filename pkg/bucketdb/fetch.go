package bucketdb

import (
	"errors"
	"fmt"
)

// Fetch returns the value stored under key in a freshly allocated
// buffer owned by the caller, or [ErrItemNotFound].
func (db *DB) Fetch(key []byte) ([]byte, error) {
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

	s := &db.current.b.Table[loc]

	val := make([]byte, s.DataSize)
	if err := db.fullReadAt(val, s.DataPtr+uint64(s.KeySize)); err != nil {
		return nil, db.fatal(fmt.Errorf("read value: %w", err))
	}

	return val, nil
}

// Exists reports whether key is present without allocating a value
// buffer.
func (db *DB) Exists(key []byte) (bool, error) {
	if err := db.usable(); err != nil {
		return false, err
	}

	hash, dirIndex, _ := db.hashPlacement(key)

	if err := db.getBucket(dirIndex); err != nil {
		return false, err
	}

	_, err := db.findKey(key, hash)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
