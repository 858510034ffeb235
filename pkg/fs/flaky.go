package fs

import (
	"os"
	"sync"
)

// FlakyOp identifies a class of file operation for fault injection.
type FlakyOp string

// Operations that [Flaky] can be told to fail.
const (
	FlakyWrite    FlakyOp = "write"
	FlakyRead     FlakyOp = "read"
	FlakySync     FlakyOp = "sync"
	FlakyTruncate FlakyOp = "truncate"
	FlakyChmod    FlakyOp = "chmod"
)

// Flaky wraps an [FS] and fails chosen operations at chosen call
// indexes. Unlike probabilistic chaos testing, failures are exact and
// reproducible: FailAt(FlakyWrite, 3) makes the third write on any file
// opened through this FS return the configured error, every run.
//
// Counters are shared across all files opened through one Flaky so a
// test can target "the write that flushes the directory" regardless of
// which descriptor performs it.
type Flaky struct {
	FS

	mu     sync.Mutex
	err    error
	counts map[FlakyOp]int
	failAt map[FlakyOp]int
}

// NewFlaky wraps inner with a fault injector that returns err from
// failing operations. A nil err defaults to [os.ErrInvalid].
func NewFlaky(inner FS, err error) *Flaky {
	if err == nil {
		err = os.ErrInvalid
	}

	return &Flaky{
		FS:     inner,
		err:    err,
		counts: make(map[FlakyOp]int),
		failAt: make(map[FlakyOp]int),
	}
}

// FailAt arranges for the n-th call (1-based) of op to fail.
// A zero or negative n clears the trigger for op.
func (f *Flaky) FailAt(op FlakyOp, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= 0 {
		delete(f.failAt, op)

		return
	}

	f.failAt[op] = n
}

// Reset clears all counters and triggers.
func (f *Flaky) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts = make(map[FlakyOp]int)
	f.failAt = make(map[FlakyOp]int)
}

// trip increments the counter for op and reports whether this call
// should fail.
func (f *Flaky) trip(op FlakyOp) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[op]++

	at, ok := f.failAt[op]

	return ok && f.counts[op] == at
}

// Open wraps the file returned by the inner FS.
func (f *Flaky) Open(path string) (File, error) {
	file, err := f.FS.Open(path)
	if err != nil {
		return nil, err
	}

	return &flakyFile{File: file, fs: f}, nil
}

// OpenFile wraps the file returned by the inner FS.
func (f *Flaky) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &flakyFile{File: file, fs: f}, nil
}

// flakyFile intercepts the failable operations and defers the rest to
// the wrapped file.
type flakyFile struct {
	File

	fs *Flaky
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.fs.trip(FlakyWrite) {
		return 0, f.fs.err
	}

	return f.File.Write(p)
}

func (f *flakyFile) WriteAt(p []byte, off int64) (int, error) {
	if f.fs.trip(FlakyWrite) {
		return 0, f.fs.err
	}

	return f.File.WriteAt(p, off)
}

func (f *flakyFile) Read(p []byte) (int, error) {
	if f.fs.trip(FlakyRead) {
		return 0, f.fs.err
	}

	return f.File.Read(p)
}

func (f *flakyFile) ReadAt(p []byte, off int64) (int, error) {
	if f.fs.trip(FlakyRead) {
		return 0, f.fs.err
	}

	return f.File.ReadAt(p, off)
}

func (f *flakyFile) Sync() error {
	if f.fs.trip(FlakySync) {
		return f.fs.err
	}

	return f.File.Sync()
}

func (f *flakyFile) Truncate(size int64) error {
	if f.fs.trip(FlakyTruncate) {
		return f.fs.err
	}

	return f.File.Truncate(size)
}

func (f *flakyFile) Chmod(mode os.FileMode) error {
	if f.fs.trip(FlakyChmod) {
		return f.fs.err
	}

	return f.File.Chmod(mode)
}

// Compile-time interface checks.
var (
	_ FS   = (*Flaky)(nil)
	_ File = (*flakyFile)(nil)
)
