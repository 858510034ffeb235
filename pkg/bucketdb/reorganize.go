package bucketdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// Reorganize copies every live key/value pair into a fresh database
// and atomically renames it over the original, reclaiming the space of
// deleted and fragmented payloads. The handle is rebound to the new
// file; readers opening the path concurrently see either the old or
// the new database, never a mixture.
func (db *DB) Reorganize() error {
	if err := db.writable(ErrReaderReorganize); err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.reorg.%d", db.opts.Path, os.Getpid())

	newOpts := db.opts
	newOpts.Path = tmpPath
	newOpts.Mode = NewDB
	newOpts.NoLock = true // the original's lock already excludes writers
	newOpts.BlockSize = int(db.hdr.BlockSize)
	newOpts.NumSyncFormat = db.hdr.extended()

	ndb, err := OpenFS(db.fsys, newOpts)
	if err != nil {
		return db.setErr(fmt.Errorf("create reorganize target: %w", err))
	}

	defer func() {
		if ndb != nil {
			_ = ndb.Close()
			_ = db.fsys.Remove(tmpPath)
		}
	}()

	key, err := db.FirstKey()
	for err == nil {
		val, ferr := db.Fetch(key)
		if ferr != nil {
			return db.setErr(fmt.Errorf("reorganize fetch: %w", ferr))
		}

		if serr := ndb.Store(key, val, Insert); serr != nil {
			return db.setErr(fmt.Errorf("reorganize store: %w", serr))
		}

		key, err = db.NextKey(key)
	}

	if !errors.Is(err, ErrItemNotFound) {
		return db.setErr(fmt.Errorf("reorganize scan: %w", err))
	}

	if err := ndb.Close(); err != nil {
		return db.setErr(fmt.Errorf("finish reorganize target: %w", err))
	}

	ndb = nil

	if err := atomic.ReplaceFile(tmpPath, db.opts.Path); err != nil {
		_ = db.fsys.Remove(tmpPath)

		return db.setErr(fmt.Errorf("replace database: %w", err))
	}

	return db.rebind()
}
