package bucketdb

import "errors"

// Sentinel errors returned by bucketdb operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, bucketdb.ErrItemNotFound) {
//	    // key absent
//	}
var (
	// ErrItemNotFound indicates the requested key is not in the database.
	//
	// Returned by [DB.Fetch], [DB.Delete], [DB.NextKey], and by
	// [DB.FirstKey] on an empty database. This is an expected case, not
	// a failure; the handle remains fully usable.
	ErrItemNotFound = errors.New("bucketdb: item not found")

	// ErrCannotReplace indicates a [DB.Store] with [Insert] found the
	// key already present. The stored value is unchanged.
	ErrCannotReplace = errors.New("bucketdb: cannot replace")

	// ErrBadMagic indicates the file's magic word identifies neither the
	// standard nor the extended format.
	//
	// Recovery: the file is not a database (or is damaged beyond the
	// first block); restore from a snapshot or backup.
	ErrBadMagic = errors.New("bucketdb: bad magic number")

	// ErrByteSwapped indicates the file was written on a machine with
	// the opposite byte order. Databases are native-endian; no runtime
	// conversion is attempted.
	ErrByteSwapped = errors.New("bucketdb: database is byte-swapped")

	// ErrBadHeader indicates the header block fails validation.
	ErrBadHeader = errors.New("bucketdb: bad header")

	// ErrBadOpenFlags indicates the [Options] passed to [Open] are
	// inconsistent (unknown mode, block size out of range with
	// [Options.ExactBlockSize], ...).
	ErrBadOpenFlags = errors.New("bucketdb: bad open flags")

	// ErrBadAvail indicates a free-space table fails validation:
	// an element outside the file, arithmetic overflow, or a cycle in
	// the overflow-block chain.
	ErrBadAvail = errors.New("bucketdb: bad avail table")

	// ErrBadBucket indicates a bucket read from disk fails validation.
	ErrBadBucket = errors.New("bucketdb: bad bucket")

	// ErrBadHashTable indicates the directory fails validation.
	ErrBadHashTable = errors.New("bucketdb: bad hash table")

	// ErrBadDirEntry indicates a directory entry does not point past the
	// header block, or its index is out of range.
	ErrBadDirEntry = errors.New("bucketdb: bad directory entry")

	// ErrBadHashEntry indicates a slot's payload pointer or sizes are
	// inconsistent with the file.
	ErrBadHashEntry = errors.New("bucketdb: bad hash entry")

	// ErrDirOverflow indicates the directory cannot double again.
	ErrDirOverflow = errors.New("bucketdb: directory overflow")

	// ErrBucketCacheCorrupted indicates an internal cache invariant was
	// violated (a freshly allocated bucket address already cached).
	ErrBucketCacheCorrupted = errors.New("bucketdb: bucket cache corrupted")

	// ErrMalformedData indicates a zero-length (or nil) key was passed
	// to [DB.Store]. Empty or nil values are legal.
	ErrMalformedData = errors.New("bucketdb: malformed database file data")

	// ErrFileEOF indicates end-of-file inside a structured read. When it
	// comes from a bucket, key, or value read the handle is also marked
	// as needing recovery; an avail-block read only records the error.
	ErrFileEOF = errors.New("bucketdb: unexpected end of file")

	// ErrReaderStore indicates [DB.Store] on a [Reader] handle.
	ErrReaderStore = errors.New("bucketdb: reader can't store")

	// ErrReaderDelete indicates [DB.Delete] on a [Reader] handle.
	ErrReaderDelete = errors.New("bucketdb: reader can't delete")

	// ErrReaderReorganize indicates [DB.Reorganize] on a [Reader] handle.
	ErrReaderReorganize = errors.New("bucketdb: reader can't reorganize")

	// ErrReaderRecover indicates [Recover] on a [Reader] handle.
	ErrReaderRecover = errors.New("bucketdb: reader can't recover")

	// ErrCannotBeReader indicates the file could not be opened for
	// reading (it does not exist, or is empty).
	ErrCannotBeReader = errors.New("bucketdb: can't be reader")

	// ErrCannotBeWriter indicates the file could not be opened for
	// writing.
	ErrCannotBeWriter = errors.New("bucketdb: can't be writer")

	// ErrCannotLock indicates the advisory file lock is held by another
	// process.
	//
	// Recovery: retry after a short delay, or open with [Options.NoLock]
	// if mutual exclusion is guaranteed externally.
	ErrCannotLock = errors.New("bucketdb: can't lock file")

	// ErrNeedRecovery indicates the handle is poisoned by an earlier
	// fatal I/O or validation failure. Only [DB.Close] and [Recover]
	// are meaningful.
	ErrNeedRecovery = errors.New("bucketdb: database needs recovery")

	// ErrBackupFailed indicates the pre-recovery backup rename failed;
	// the original database is untouched.
	ErrBackupFailed = errors.New("bucketdb: failed to backup database file")

	// ErrNoDBName indicates an empty database path.
	ErrNoDBName = errors.New("bucketdb: no database name")

	// ErrFileOwner indicates a snapshot file is not a regular,
	// non-executable file. File ownership is not checked.
	ErrFileOwner = errors.New("bucketdb: bad snapshot file ownership")

	// ErrFileMode indicates a snapshot file's permission bits could not
	// be set or are inconsistent (readable and writable at once).
	ErrFileMode = errors.New("bucketdb: bad snapshot file mode")

	// ErrSnapshotClone indicates the filesystem refused the reflink
	// clone. Snapshots are disarmed when the filesystem does not support
	// cloning; the database itself is unaffected.
	ErrSnapshotClone = errors.New("bucketdb: can't clone snapshot")

	// ErrRealpath indicates the snapshot or database path could not be
	// resolved to an absolute path.
	ErrRealpath = errors.New("bucketdb: can't resolve path")

	// ErrSnapshotSame indicates both snapshots carry the same
	// modification time and sync counter; neither can be preferred.
	ErrSnapshotSame = errors.New("bucketdb: snapshots are identical")

	// ErrSnapshotSuspicious indicates the snapshots' sync counters are
	// not consecutive; the returned pick is a best effort.
	ErrSnapshotSuspicious = errors.New("bucketdb: snapshot sync counters differ suspiciously")

	// ErrSnapshotBad indicates neither snapshot is marked recoverable;
	// the crash happened while arming.
	ErrSnapshotBad = errors.New("bucketdb: no usable snapshot")

	// ErrOptAlreadySet indicates a set-once tunable was set twice.
	ErrOptAlreadySet = errors.New("bucketdb: option already set")

	// ErrOptBadVal indicates a tunable value is out of range.
	ErrOptBadVal = errors.New("bucketdb: bad option value")

	// ErrUsage indicates an API contract violation (mismatched snapshot
	// paths, nil receiver, ...). This is a programming error.
	ErrUsage = errors.New("bucketdb: invalid usage")

	// ErrClosed indicates the handle has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("bucketdb: closed")
)
