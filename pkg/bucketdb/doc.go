// Package bucketdb implements an embedded, single-writer key/value
// store backed by a single file laid out as an extensible hash table.
//
// The file holds a header block, a directory of bucket offsets indexed
// by the top bits of a 31-bit key hash, fixed-size buckets of slots
// probed linearly, and raw key/value payloads allocated from a
// free-space pool. Buckets split and the directory doubles as data
// grows; an LRU cache keeps hot buckets in memory with all dirty
// entries grouped at the head so a sync writes a single contiguous
// prefix.
//
// # Basic Usage
//
//	db, err := bucketdb.Open(bucketdb.Options{
//	    Path: "/var/lib/app/data.db",
//	    Mode: bucketdb.WrCreate,
//	})
//	if err != nil {
//	    // handle [ErrBadMagic]/[ErrBadHeader] by recovering or recreating
//	}
//	defer db.Close()
//
//	err = db.Store([]byte("alpha"), []byte("1"), bucketdb.Insert)
//	val, err := db.Fetch([]byte("alpha"))
//
// # Concurrency
//
// A handle is single-threaded: no operation on *DB may run concurrently
// with another on the same handle. Across processes, access is
// serialized by an advisory whole-file lock (shared for [Reader],
// exclusive otherwise) unless [Options.NoLock] is set.
//
// # Durability
//
// Mutations accumulate in the bucket cache until [DB.Sync], [DB.Close],
// or cache eviction writes them back. [Options.Sync] forces a full sync
// after every mutation. [DB.SetFailureAtomic] additionally arms a
// crash-tolerant snapshot protocol over two reflink clones of the
// database; [LatestSnapshot] picks the survivor after a crash.
//
// # Error Handling
//
// Errors are sentinel values checked with [errors.Is]. A failed write,
// seek, or sync on the write path poisons the handle: subsequent
// mutations fail with [ErrNeedRecovery] until [Recover] rebuilds the
// database or the handle is closed.
package bucketdb
