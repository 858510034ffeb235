package bucketdb

import (
	"fmt"
)

// Close syncs a writable handle, releases the lock, the mmap window,
// any snapshot descriptors, and all memory. Idempotent: closing an
// already-closed handle returns nil.
//
// On a poisoned handle the flush is skipped; whatever the last
// successful sync made durable is what remains.
func (db *DB) Close() error {
	if db == nil || db.closed {
		return nil
	}

	var syncErr error

	if !db.readOnly && !db.needRecovery && db.file != nil {
		syncErr = db.syncInternal()
	}

	db.releaseResources()
	db.closed = true

	if syncErr != nil {
		return fmt.Errorf("close: %w", syncErr)
	}

	return nil
}
