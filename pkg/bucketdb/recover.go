package bucketdb

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
)

// RecoverOptions configure [Recover].
type RecoverOptions struct {
	// Verbose, when non-nil, receives a diagnostic line per salvage
	// event (unreadable bucket, dropped key, ...).
	Verbose func(format string, args ...any)

	// Force runs the salvage even when the handle is not flagged as
	// needing recovery.
	Force bool

	// Backup renames the original file to "<path>.<YYYYMMDDHHMMSS>"
	// instead of discarding it.
	Backup bool

	// Abort thresholds; zero means unlimited.
	MaxFailedKeys    uint64
	MaxFailedBuckets uint64
	MaxFailures      uint64
}

// RecoverStat reports what a recovery run did.
type RecoverStat struct {
	// BackupName is the backup file path when RecoverOptions.Backup was
	// set.
	BackupName string

	RecoveredKeys    uint64
	RecoveredBuckets uint64
	FailedKeys       uint64
	FailedBuckets    uint64
	DuplicateKeys    uint64
}

// Recover rebuilds a consistent database from a possibly-corrupt one:
// every bucket reachable from the directory is visited once, every
// readable key/value pair is copied into a fresh database, and the
// result atomically replaces the original. The handle is rebound to
// the rebuilt file and un-poisoned.
//
// Without [RecoverOptions.Force], a handle that does not need recovery
// is left untouched.
func Recover(db *DB, opts RecoverOptions) (RecoverStat, error) {
	var stat RecoverStat

	if err := db.usable(); err != nil {
		return stat, err
	}

	if db.readOnly {
		return stat, db.setErr(ErrReaderRecover)
	}

	if !db.needRecovery && !opts.Force {
		return stat, nil
	}

	verbose := opts.Verbose
	if verbose == nil {
		verbose = func(string, ...any) {}
	}

	tmpPath := fmt.Sprintf("%s.recover.%d", db.opts.Path, os.Getpid())

	newOpts := db.opts
	newOpts.Path = tmpPath
	newOpts.Mode = NewDB
	newOpts.NoLock = true
	newOpts.BlockSize = int(db.hdr.BlockSize)
	newOpts.NumSyncFormat = db.hdr.extended()

	ndb, err := OpenFS(db.fsys, newOpts)
	if err != nil {
		return stat, db.setErr(fmt.Errorf("create recovery target: %w", err))
	}

	defer func() {
		if ndb != nil {
			_ = ndb.Close()
			_ = db.fsys.Remove(tmpPath)
		}
	}()

	if err := db.salvage(ndb, &stat, verbose, &opts); err != nil {
		return stat, db.setErr(err)
	}

	if err := ndb.Close(); err != nil {
		return stat, db.setErr(fmt.Errorf("finish recovery target: %w", err))
	}

	ndb = nil

	if opts.Backup {
		stat.BackupName = db.opts.Path + "." + time.Now().Format("20060102150405")

		if err := db.fsys.Rename(db.opts.Path, stat.BackupName); err != nil {
			_ = db.fsys.Remove(tmpPath)

			return stat, db.setErr(fmt.Errorf("%w: %w", ErrBackupFailed, err))
		}

		if err := db.fsys.Rename(tmpPath, db.opts.Path); err != nil {
			return stat, db.setErr(fmt.Errorf("install recovered database: %w", err))
		}
	} else if err := atomic.ReplaceFile(tmpPath, db.opts.Path); err != nil {
		_ = db.fsys.Remove(tmpPath)

		return stat, db.setErr(fmt.Errorf("install recovered database: %w", err))
	}

	if err := db.rebind(); err != nil {
		return stat, err
	}

	return stat, nil
}

// salvage walks the damaged database and stores every readable pair
// into ndb, honoring the abort thresholds.
func (db *DB) salvage(ndb *DB, stat *RecoverStat, verbose func(string, ...any), opts *RecoverOptions) error {
	fileSize, err := db.fileSize()
	if err != nil {
		return err
	}

	seen := make(map[uint64]struct{})

	for dirIndex := 0; dirIndex < db.hdr.dirCount(); dirIndex++ {
		adr := db.dir[dirIndex]

		if adr < uint64(db.hdr.BlockSize) {
			verbose("directory entry %d: bad offset %d", dirIndex, adr)

			stat.FailedBuckets++

			if err := checkThresholds(stat, opts); err != nil {
				return err
			}

			continue
		}

		if _, dup := seen[adr]; dup {
			continue
		}

		seen[adr] = struct{}{}

		b, err := db.salvageBucket(adr, fileSize)
		if err != nil {
			verbose("bucket at %d: %v", adr, err)

			stat.FailedBuckets++

			if err := checkThresholds(stat, opts); err != nil {
				return err
			}

			continue
		}

		stat.RecoveredBuckets++

		for i := range b.Table {
			s := &b.Table[i]
			if s.Hash < 0 {
				continue
			}

			key, val, err := db.salvageEntry(s, fileSize)
			if err != nil {
				verbose("bucket at %d slot %d: %v", adr, i, err)

				stat.FailedKeys++

				if err := checkThresholds(stat, opts); err != nil {
					return err
				}

				continue
			}

			switch err := ndb.Store(key, val, Insert); {
			case err == nil:
				stat.RecoveredKeys++
			case errors.Is(err, ErrCannotReplace):
				verbose("duplicate key in bucket at %d slot %d", adr, i)

				stat.DuplicateKeys++
			default:
				return fmt.Errorf("store recovered key: %w", err)
			}
		}
	}

	return nil
}

// salvageBucket reads and structurally checks one bucket without going
// through the cache, so corrupt images never become the current bucket.
func (db *DB) salvageBucket(adr uint64, fileSize uint64) (*bucket, error) {
	if adr+uint64(db.hdr.BucketSize) > fileSize {
		return nil, fmt.Errorf("bucket overruns file: %w", ErrBadBucket)
	}

	buf := make([]byte, db.hdr.BucketSize)
	if err := db.fullReadAt(buf, adr); err != nil {
		return nil, err
	}

	b, err := decodeBucket(buf, int(db.hdr.BucketElems))
	if err != nil {
		return nil, err
	}

	if b.Count < 0 || b.Count > int(db.hdr.BucketElems) {
		return nil, fmt.Errorf("bucket count %d: %w", b.Count, ErrBadBucket)
	}

	return b, nil
}

// salvageEntry reads one slot's payload with full bounds checking.
func (db *DB) salvageEntry(s *slot, fileSize uint64) (key, val []byte, err error) {
	total := uint64(s.KeySize) + uint64(s.DataSize)

	switch {
	case s.KeySize == 0:
		return nil, nil, fmt.Errorf("zero key size: %w", ErrBadHashEntry)
	case s.DataPtr < uint64(db.hdr.BlockSize):
		return nil, nil, fmt.Errorf("payload pointer %d inside header block: %w", s.DataPtr, ErrBadHashEntry)
	case s.DataPtr+total < s.DataPtr || s.DataPtr+total > fileSize:
		return nil, nil, fmt.Errorf("payload [%d,+%d) overruns file: %w", s.DataPtr, total, ErrBadHashEntry)
	}

	buf := make([]byte, total)
	if err := db.fullReadAt(buf, s.DataPtr); err != nil {
		return nil, nil, err
	}

	return buf[:s.KeySize], buf[s.KeySize:], nil
}

// checkThresholds aborts the salvage when a configured limit is hit.
func checkThresholds(stat *RecoverStat, opts *RecoverOptions) error {
	failures := stat.FailedKeys + stat.FailedBuckets

	switch {
	case opts.MaxFailedKeys > 0 && stat.FailedKeys > opts.MaxFailedKeys:
		return fmt.Errorf("more than %d unreadable keys: %w", opts.MaxFailedKeys, ErrNeedRecovery)
	case opts.MaxFailedBuckets > 0 && stat.FailedBuckets > opts.MaxFailedBuckets:
		return fmt.Errorf("more than %d unreadable buckets: %w", opts.MaxFailedBuckets, ErrNeedRecovery)
	case opts.MaxFailures > 0 && failures > opts.MaxFailures:
		return fmt.Errorf("more than %d failures: %w", opts.MaxFailures, ErrNeedRecovery)
	}

	return nil
}
