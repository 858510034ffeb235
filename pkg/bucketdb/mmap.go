package bucketdb

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// The optional mmap path maps a prefix window of the file, capped at
// MmapMax. Reads and writes inside the window are memory copies; the
// rest falls back to positioned syscalls, which stay coherent with a
// MAP_SHARED mapping of the same file. The window is remapped when the
// file grows.

// mapFile establishes the window. A zero-length file maps nothing.
func (db *DB) mapFile() error {
	size, err := db.fileSize()
	if err != nil {
		return err
	}

	if size > db.mmapMax {
		size = db.mmapMax
	}

	if size == 0 {
		return nil
	}

	prot := unix.PROT_READ
	if !db.readOnly {
		prot |= unix.PROT_WRITE
	}

	n, err := uint64ToInt64Checked(size)
	if err != nil {
		return err
	}

	data, err := unix.Mmap(int(db.file.Fd()), 0, int(n), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	db.mapped = data

	return nil
}

// unmapFile tears the window down. Safe to call when not mapped.
func (db *DB) unmapFile() {
	if db.mapped == nil {
		return
	}

	_ = unix.Munmap(db.mapped)
	db.mapped = nil
}

// remap rebuilds the window after the file grew or the ceiling changed.
func (db *DB) remap() error {
	db.unmapFile()

	return db.mapFile()
}

// msyncMapped flushes the window's dirty pages.
func (db *DB) msyncMapped() error {
	if db.mapped == nil {
		return nil
	}

	if err := unix.Msync(db.mapped, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}

	return nil
}
