package bucketdb

import (
	"fmt"
	"os"
)

// rebind points an open handle at the (replaced) database file after
// Reorganize or Recover renamed a rebuilt file over the original. The
// old descriptor, lock, mmap window, and cache are released; snapshot
// arming survives, since the snapshot files are untouched by the
// replacement and the next sync clones the new contents.
func (db *DB) rebind() error {
	db.unmapFile()

	if db.file != nil {
		if db.lockKind != lockingNone {
			unlockFile(db.file, db.lockKind)
			db.lockKind = lockingNone
		}

		_ = db.file.Close()
		db.file = nil
	}

	db.cacheDrop()

	db.hdr = nil
	db.avail = nil
	db.dir = nil
	db.headerChanged = false
	db.dirChanged = false
	db.needRecovery = false
	db.lastErr = nil

	perm := os.FileMode(db.opts.FileMode)
	if perm == 0 {
		perm = 0o600
	}

	file, err := db.fsys.OpenFile(db.opts.Path, os.O_RDWR, perm)
	if err != nil {
		db.closed = true

		return fmt.Errorf("reopen %s: %w", db.opts.Path, err)
	}

	db.file = file

	if !db.opts.NoLock {
		kind, err := lockFile(file, false)
		if err != nil {
			_ = file.Close()
			db.file = nil
			db.closed = true

			return err
		}

		db.lockKind = kind
	}

	size, err := db.fileSize()
	if err == nil {
		err = db.load(size)
	}

	if err == nil && !db.opts.NoMmap {
		err = db.mapFile()
	}

	if err != nil {
		db.releaseResources()
		db.closed = true

		return err
	}

	return nil
}
