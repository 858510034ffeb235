package bucketdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Crash-tolerant snapshots: once armed, every successful [DB.Sync]
// reflink-clones the database into one of two snapshot files,
// alternating between them. Permission bits carry the commit signal:
// 0200 (write-only) means "do not recover from this, writing in
// progress or stale", 0400 (read-only) means "recover from this".
// Every transition is fsync'd, so at any crash instant at least one
// snapshot holds a complete previously-committed database image.

// Snapshot permission signals.
const (
	snapModeBusy  = os.FileMode(0o200) // writing in progress / stale
	snapModeReady = os.FileMode(0o400) // committed, safe to recover from
)

// SetFailureAtomic arms the snapshot protocol with the two given
// files, which must not exist yet and must live on the same filesystem
// as the database. Re-arming an armed handle replaces the prior pair.
// The files and every directory on their paths are made durable before
// the first snapshot is taken.
func (db *DB) SetFailureAtomic(even, odd string) error {
	if err := db.usable(); err != nil {
		return err
	}

	if db.needRecovery {
		return db.setErr(ErrNeedRecovery)
	}

	if db.readOnly {
		return db.setErr(fmt.Errorf("snapshots need a writer handle: %w", ErrUsage))
	}

	if even == "" || odd == "" {
		return db.setErr(fmt.Errorf("snapshot file names: %w", ErrNoDBName))
	}

	if even == odd {
		return db.setErr(fmt.Errorf("identical snapshot file names: %w", ErrUsage))
	}

	if db.snapCur >= 0 {
		db.disarmSnapshots()
	}

	if err := db.armSnapshots(even, odd); err != nil {
		db.disarmSnapshots()

		return db.setErr(err)
	}

	// Take the first snapshot immediately so a crash right after arming
	// already has a committed image to recover from.
	db.snapCur = 0

	if err := db.snapshot(); err != nil {
		db.disarmSnapshots()

		return db.setErr(err)
	}

	return nil
}

// armSnapshots creates both snapshot files and makes their directory
// entries durable.
func (db *DB) armSnapshots(even, odd string) error {
	dbDev, err := deviceOf(int(db.file.Fd()))
	if err != nil {
		return fmt.Errorf("stat database: %w", err)
	}

	for i, path := range []string{even, odd} {
		f, err := db.fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, snapModeBusy)
		if err != nil {
			return fmt.Errorf("create snapshot %s: %w", path, err)
		}

		db.snapFiles[i] = f

		dev, err := deviceOf(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("stat snapshot %s: %w", path, err)
		}

		if dev != dbDev {
			return fmt.Errorf("snapshot %s is on a different filesystem: %w", path, ErrUsage)
		}

		if err := fsyncToRoot(path); err != nil {
			return err
		}
	}

	return fsyncToRoot(db.opts.Path)
}

// disarmSnapshots closes the snapshot descriptors and disables the
// protocol. The database itself is unaffected.
func (db *DB) disarmSnapshots() {
	for i, f := range db.snapFiles {
		if f != nil {
			_ = f.Close()
			db.snapFiles[i] = nil
		}
	}

	db.snapCur = -1
}

// snapshot runs the per-sync protocol step on the current slot:
// demote it to busy, clone the database in, promote it to ready, then
// demote the previous snapshot, every transition fsync'd. At any crash
// instant at least one slot is a committed image; both are readable
// only in the window between promotion and demotion, which the
// selection procedure resolves through the sync counters.
func (db *DB) snapshot() error {
	if db.snapCur < 0 {
		return nil
	}

	if db.snapCur > 1 {
		db.disarmSnapshots()

		return db.setErr(fmt.Errorf("snapshot slot out of range: %w", ErrUsage))
	}

	s := db.snapFiles[db.snapCur]
	prev := db.snapFiles[1-db.snapCur]
	db.snapCur = 1 - db.snapCur

	// "Do not recover from this, writing in progress."
	if err := s.Chmod(snapModeBusy); err != nil {
		return db.setErr(fmt.Errorf("demote snapshot: %w", ErrFileMode))
	}

	if err := s.Sync(); err != nil {
		return db.setErr(fmt.Errorf("sync snapshot mode: %w", err))
	}

	// Reflink the database over the previous contents.
	if err := ioctlFileClone(int(s.Fd()), int(db.file.Fd())); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) ||
			errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EXDEV) {
			db.disarmSnapshots()
		}

		return db.setErr(fmt.Errorf("clone database: %w: %w", err, ErrSnapshotClone))
	}

	if err := s.Sync(); err != nil {
		return db.setErr(fmt.Errorf("sync snapshot data: %w", err))
	}

	// "Do recover from this, writing completed successfully."
	if err := s.Chmod(snapModeReady); err != nil {
		return db.setErr(fmt.Errorf("promote snapshot: %w", ErrFileMode))
	}

	if err := s.Sync(); err != nil {
		return db.setErr(fmt.Errorf("sync snapshot mode: %w", err))
	}

	// Demote the earlier snapshot only after the new one is committed.
	if err := prev.Chmod(snapModeBusy); err != nil {
		return db.setErr(fmt.Errorf("demote previous snapshot: %w", ErrFileMode))
	}

	if err := prev.Sync(); err != nil {
		return db.setErr(fmt.Errorf("sync previous snapshot mode: %w", err))
	}

	return nil
}

// ioctlFileClone is a variable so tests can simulate filesystems
// without reflink support.
var ioctlFileClone = func(destFd, srcFd int) error {
	return unix.IoctlFileClone(destFd, srcFd)
}

// deviceOf returns the device id of an open descriptor.
func deviceOf(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}

	return uint64(st.Dev), nil
}

// fsyncToRoot fsyncs every directory from the file's parent up to the
// root, making the directory entries on the whole path durable.
func fsyncToRoot(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, ErrRealpath)
	}

	if resolved, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	} else {
		return fmt.Errorf("resolve %s: %w", path, ErrRealpath)
	}

	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		d, err := os.Open(dir) //nolint:gosec
		if err != nil {
			return fmt.Errorf("open %s: %w", dir, err)
		}

		syncErr := d.Sync()
		closeErr := d.Close()

		if syncErr != nil {
			return fmt.Errorf("fsync %s: %w", dir, syncErr)
		}

		if closeErr != nil {
			return fmt.Errorf("close %s: %w", dir, closeErr)
		}

		if dir == filepath.Dir(dir) {
			return nil
		}
	}
}

// SnapshotVerdict classifies the outcome of [LatestSnapshot].
type SnapshotVerdict int

// Verdicts, from best to worst.
const (
	// SnapshotOK: exactly one snapshot is committed, or the sync
	// counters identify the newer one unambiguously.
	SnapshotOK SnapshotVerdict = iota

	// SnapshotSuspicious: both snapshots are committed but their sync
	// counters are equal or differ by more than one; the pick falls
	// back to modification times.
	SnapshotSuspicious

	// SnapshotSame: both snapshots are committed and even their
	// modification times tie; no pick is possible.
	SnapshotSame

	// SnapshotBad: neither snapshot is committed; the crash happened
	// while arming.
	SnapshotBad
)

// LatestSnapshot selects which of the two snapshot files to recover
// from after a crash.
//
// Selection: if exactly one file is committed (mode 0400), it wins.
// If both are, the extended header's numsync counters decide when they
// are consecutive (mod 2^32); otherwise the verdict is
// [SnapshotSuspicious] with [ErrSnapshotSuspicious] and the newer
// modification time wins, [SnapshotSame]/[ErrSnapshotSame] if those
// tie too. When either file lacks the extended header, the newer
// modification time wins with [SnapshotOK] (or [SnapshotSame] on a
// tie). If neither is committed the verdict is [SnapshotBad] with
// [ErrSnapshotBad].
func LatestSnapshot(even, odd string) (string, SnapshotVerdict, error) {
	if even == "" || odd == "" || even == odd {
		return "", SnapshotBad, fmt.Errorf("snapshot file names: %w", ErrUsage)
	}

	stEven, err := statSnapshot(even)
	if err != nil {
		return "", SnapshotBad, err
	}

	stOdd, err := statSnapshot(odd)
	if err != nil {
		return "", SnapshotBad, err
	}

	evenReady := stEven.Mode().Perm()&0o400 != 0
	oddReady := stOdd.Mode().Perm()&0o400 != 0

	switch {
	case evenReady && !oddReady:
		return even, SnapshotOK, nil
	case oddReady && !evenReady:
		return odd, SnapshotOK, nil
	case !evenReady && !oddReady:
		return "", SnapshotBad, ErrSnapshotBad
	}

	// Both committed: prefer consecutive sync counters.
	nsEven, okEven := readNumSync(even)
	nsOdd, okOdd := readNumSync(odd)

	if okEven && okOdd {
		switch {
		case nsEven == nsOdd+1:
			return even, SnapshotOK, nil
		case nsOdd == nsEven+1:
			return odd, SnapshotOK, nil
		}

		// Equal or further apart than one sync: fall through to mtimes,
		// flagged suspicious.
		path, verdict, err := pickByMtime(even, odd, stEven.ModTime(), stOdd.ModTime())
		if verdict == SnapshotOK {
			return path, SnapshotSuspicious, ErrSnapshotSuspicious
		}

		return path, verdict, err
	}

	return pickByMtime(even, odd, stEven.ModTime(), stOdd.ModTime())
}

// pickByMtime prefers the more recently modified snapshot.
func pickByMtime(even, odd string, tEven, tOdd time.Time) (string, SnapshotVerdict, error) {
	switch {
	case tEven.After(tOdd):
		return even, SnapshotOK, nil
	case tOdd.After(tEven):
		return odd, SnapshotOK, nil
	default:
		return "", SnapshotSame, ErrSnapshotSame
	}
}

// statSnapshot validates that path looks like a snapshot file: a
// regular, non-executable file that is not both readable and writable.
func statSnapshot(path string) (os.FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot %s: %w", path, err)
	}

	if !st.Mode().IsRegular() || st.Mode().Perm()&0o100 != 0 {
		return nil, fmt.Errorf("snapshot %s: %w", path, ErrFileOwner)
	}

	perm := st.Mode().Perm()
	if perm&0o400 != 0 && perm&0o200 != 0 {
		return nil, fmt.Errorf("snapshot %s is readable and writable: %w", path, ErrFileMode)
	}

	return st, nil
}

// readNumSync extracts the sync counter from a snapshot's extended
// header. Returns false for the standard format or an unreadable file.
func readNumSync(path string) (uint32, bool) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return 0, false
	}

	defer func() { _ = f.Close() }()

	buf := make([]byte, extHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, false
	}

	if hostOrder.Uint32(buf[offMagic:]) != magicNumSync {
		return 0, false
	}

	return hostOrder.Uint32(buf[offNumSync:]), true
}
