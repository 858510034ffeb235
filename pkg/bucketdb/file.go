package bucketdb

import (
	"errors"
	"fmt"
	"io"
)

// The file I/O shim. Structured reads and writes go through fullReadAt
// and fullWriteAt, which prefer the mmap window and fall back to
// positioned syscalls; short transfers are retried by the os layer and
// end-of-file inside a structured read is a distinct failure
// ([ErrFileEOF]) that flags the handle for recovery at the call sites
// that treat it as fatal.

// fullReadAt fills buf from the file at off.
func (db *DB) fullReadAt(buf []byte, off uint64) error {
	o, err := uint64ToInt64Checked(off)
	if err != nil {
		return err
	}

	end := off + uint64(len(buf))
	if end >= off && end <= uint64(len(db.mapped)) {
		copy(buf, db.mapped[off:end])

		return nil
	}

	n, err := db.file.ReadAt(buf, o)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("short read of %d at %d (%d): %w", len(buf), off, n, ErrFileEOF)
		}

		return fmt.Errorf("read %d at %d: %w", len(buf), off, err)
	}

	return nil
}

// fullWriteAt writes buf to the file at off. Writes past the current
// end of file extend it.
func (db *DB) fullWriteAt(buf []byte, off uint64) error {
	o, err := uint64ToInt64Checked(off)
	if err != nil {
		return err
	}

	end := off + uint64(len(buf))
	if end >= off && end <= uint64(len(db.mapped)) {
		copy(db.mapped[off:end], buf)

		return nil
	}

	if _, err := db.file.WriteAt(buf, o); err != nil {
		return fmt.Errorf("write %d at %d: %w", len(buf), off, err)
	}

	return nil
}

// extendFile grows the file to size bytes so that space allocated past
// end-of-file is backed by real zero blocks rather than an accidental
// sparse hole.
func (db *DB) extendFile(size uint64) error {
	info, err := db.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	want, err := uint64ToInt64Checked(size)
	if err != nil {
		return err
	}

	if info.Size() >= want {
		return nil
	}

	if err := db.file.Truncate(want); err != nil {
		return fmt.Errorf("extend to %d: %w", size, err)
	}

	if db.mapped != nil {
		return db.remap()
	}

	return nil
}

// fileSize returns the current size of the database file.
func (db *DB) fileSize() (uint64, error) {
	info, err := db.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}

	return uint64(info.Size()), nil
}

// fileSync commits file contents to stable storage: msync for the
// mapped window plus fsync for everything else. On success the
// snapshot step runs if the protocol is armed.
func (db *DB) fileSync() error {
	if db.mapped != nil {
		if err := db.msyncMapped(); err != nil {
			return err
		}
	}

	if err := db.file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}

	return db.snapshot()
}
