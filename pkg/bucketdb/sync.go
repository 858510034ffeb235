package bucketdb

import (
	"fmt"
)

// Sync makes every preceding mutation durable: the cache's dirty
// prefix, the directory, and the header are written in that order,
// the file is extended to the allocation watermark, and the result is
// fsync'd (msync under mmap). With the extended format the header's
// numsync counter is incremented first; with the snapshot protocol
// armed, a successful sync finishes by producing a snapshot.
func (db *DB) Sync() error {
	if err := db.usable(); err != nil {
		return err
	}

	if db.needRecovery {
		return db.setErr(ErrNeedRecovery)
	}

	if db.readOnly {
		return nil
	}

	return db.syncInternal()
}

// syncInternal is the write-ordering core shared by Sync, Close, and
// sync-mode mutations.
func (db *DB) syncInternal() error {
	// (a) dirty bucket prefix.
	if err := db.flushDirty(); err != nil {
		return err
	}

	// (b) directory, made durable before the header can point at it.
	if db.dirChanged {
		if err := db.fullWriteAt(encodeDir(db.dir), db.hdr.Dir); err != nil {
			return db.fatal(fmt.Errorf("write directory: %w", err))
		}

		db.dirChanged = false

		if err := db.fsyncOnly(); err != nil {
			return db.fatal(err)
		}
	}

	// (c) header, carrying the incremented sync counter when extended.
	if db.headerChanged || db.hdr.extended() {
		if db.hdr.extended() {
			db.hdr.NumSync++
		}

		if err := db.fullWriteAt(encodeHeader(db.hdr, db.avail), 0); err != nil {
			return db.fatal(fmt.Errorf("write header: %w", err))
		}

		if err := db.extendFile(db.hdr.NextBlock); err != nil {
			return db.fatal(err)
		}

		db.headerChanged = false
	}

	// (d) durability, plus the snapshot step when armed.
	if err := db.fileSync(); err != nil {
		return db.fatal(err)
	}

	return nil
}

// fsyncOnly commits file contents without running the snapshot step;
// used for the intermediate barrier between directory and header.
func (db *DB) fsyncOnly() error {
	if db.mapped != nil {
		if err := db.msyncMapped(); err != nil {
			return err
		}
	}

	if err := db.file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}

	return nil
}

// maybeSyncAfterMutation applies the Sync tunable at the end of a
// successful Store or Delete.
func (db *DB) maybeSyncAfterMutation() error {
	if !db.syncMode {
		return nil
	}

	return db.syncInternal()
}
