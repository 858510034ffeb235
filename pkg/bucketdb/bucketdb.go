package bucketdb

import (
	"github.com/calvinalkan/bucketdb/pkg/fs"
)

// DB is a handle to an open database.
//
// A handle owns its file descriptor, advisory lock, header, directory,
// master avail pool, and bucket cache for its whole lifetime. It is
// not safe for concurrent use; see the package documentation.
type DB struct {
	opts Options
	fsys fs.FS
	file fs.File

	readOnly bool

	// In-memory images owned by the handle.
	hdr   *header
	avail *availBlock
	dir   []uint64

	// Bucket cache. current is the MRU entry; bucketDir is the
	// directory index last used to reach it.
	cache     bucketCache
	current   *cacheElem
	bucketDir int

	cacheAccesses uint64
	cacheHits     uint64

	headerChanged bool
	dirChanged    bool

	// Windowed mmap of the file prefix; nil when disabled or empty.
	mapped  []byte
	mmapMax uint64

	lockKind lockKind

	// Snapshot protocol state. snapCur is -1 when disarmed.
	snapFiles [2]fs.File
	snapCur   int

	syncMode     bool
	centralFree  bool
	coalesce     bool
	cacheSizeSet bool

	needRecovery bool
	lastErr      error
	closed       bool
}
