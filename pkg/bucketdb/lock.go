package bucketdb

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/bucketdb/pkg/fs"
)

// The whole-file advisory lock serializes access across processes:
// readers take a shared lock, writers an exclusive one, both
// non-blocking. Three mechanisms are tried in order — flock, lockf,
// fcntl byte-range — because each is unavailable or restricted on some
// filesystems (flock over NFS, lockf on read-only descriptors). The
// mechanism that succeeded is remembered so unlock uses the same one.
//
// The locks are advisory: every cooperating process must take them.

// lockKind records which mechanism holds the lock.
type lockKind int

const (
	lockingNone lockKind = iota
	lockingFlock
	lockingLockf
	lockingFcntl
)

// tryLock outcomes.
const (
	tryLockOK   = iota // locking succeeded
	tryLockFail        // file locked by another process
	tryLockNext        // mechanism unavailable; try the next one
)

// flockRetryEINTR retries flock when a signal interrupts it.
func flockRetryEINTR(fd, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// tryLockFlock attempts a flock lock, shared for readers.
func tryLockFlock(fd int, readOnly bool) int {
	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}

	err := flockRetryEINTR(fd, how|unix.LOCK_NB)
	if err == nil {
		return tryLockOK
	}

	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return tryLockFail
	}

	return tryLockNext
}

// tryLockLockf attempts a whole-file lockf-style lock. lockf only
// works on descriptors open for writing, so readers always fall
// through to the next mechanism.
func tryLockLockf(fd int, readOnly bool) int {
	if readOnly {
		return tryLockNext
	}

	fl := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  0,
		Len:    0,
	}

	err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &fl)
	if err == nil {
		return tryLockOK
	}

	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EDEADLK) {
		return tryLockFail
	}

	return tryLockNext
}

// tryLockFcntl attempts a byte-range fcntl lock over the whole file,
// shared for readers.
func tryLockFcntl(fd int, readOnly bool) int {
	typ := int16(unix.F_WRLCK)
	if readOnly {
		typ = unix.F_RDLCK
	}

	fl := unix.Flock_t{
		Type:   typ,
		Whence: 0,
		Start:  0,
		Len:    0,
	}

	err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &fl)
	if err == nil {
		return tryLockOK
	}

	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EDEADLK) {
		return tryLockFail
	}

	return tryLockNext
}

// lockFile acquires the advisory lock on f, trying each mechanism in
// turn. Contention on any mechanism yields [ErrCannotLock]; a file
// where no mechanism works at all is also reported as unlockable.
func lockFile(f fs.File, readOnly bool) (lockKind, error) {
	fd := int(f.Fd())

	switch tryLockFlock(fd, readOnly) {
	case tryLockOK:
		return lockingFlock, nil
	case tryLockFail:
		return lockingNone, ErrCannotLock
	}

	switch tryLockLockf(fd, readOnly) {
	case tryLockOK:
		return lockingLockf, nil
	case tryLockFail:
		return lockingNone, ErrCannotLock
	}

	switch tryLockFcntl(fd, readOnly) {
	case tryLockOK:
		return lockingFcntl, nil
	case tryLockFail:
		return lockingNone, ErrCannotLock
	}

	return lockingNone, fmt.Errorf("no locking mechanism available: %w", ErrCannotLock)
}

// unlockFile releases a lock taken by lockFile using the same
// mechanism. Best effort: closing the descriptor releases the lock
// anyway.
func unlockFile(f fs.File, kind lockKind) {
	fd := int(f.Fd())

	switch kind {
	case lockingFlock:
		_ = flockRetryEINTR(fd, unix.LOCK_UN)
	case lockingLockf, lockingFcntl:
		fl := unix.Flock_t{
			Type:   unix.F_UNLCK,
			Whence: 0,
			Start:  0,
			Len:    0,
		}
		_ = unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &fl)
	case lockingNone:
	}
}
