// Package fs provides the filesystem abstraction used by the storage
// engine and its tests.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [Flaky]: testing implementation that fails at chosen call indexes
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("data.db", os.O_RDWR, 0o600)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.ReaderAt], [io.WriterAt], [io.Seeker], or [io.Closer].
//
// The intent is os-like behavior: implementations must behave like
// [os.File], including that [File.Fd] returns a valid OS file descriptor
// usable with syscalls (for example flock or mmap) until the file is
// closed.
//
// Note: [File] includes [io.Writer] even for read-only handles. Like
// [os.File], implementations should return an error from Write when the
// file wasn't opened for writing.
type File interface {
	// Embedded interfaces from [io].
	// These provide Read, Write, Close, Seek, ReadAt, and WriteAt.
	io.ReadWriteCloser
	io.Seeker
	io.ReaderAt
	io.WriterAt

	// Fd returns the file descriptor. See [os.File.Fd].
	// Used for low-level operations like flock, mmap, and ioctl.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the size of the file. See [os.File.Truncate].
	Truncate(size int64) error

	// Chmod changes the mode of the file. See [os.File.Chmod].
	Chmod(mode os.FileMode) error

	// Name returns the name of the file as presented to open.
	// See [os.File.Name].
	Name() string
}

// FS defines filesystem operations for opening and managing files.
//
// Implementations in this package include:
//   - [Real]: production use, wraps the [os] package
//   - [Flaky]: testing use, injects failures at chosen call indexes
//
// All methods mirror their [os] package equivalents but can be
// intercepted for testing with fault injection.
//
// Paths use OS semantics (like the os package and path/filepath), not
// the slash-separated paths of the standard library io/fs package.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions.
	// See [os.OpenFile].
	//
	// Common flags: [os.O_RDONLY], [os.O_WRONLY], [os.O_RDWR],
	// [os.O_APPEND], [os.O_CREATE], [os.O_EXCL], [os.O_TRUNC].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info. See [os.Stat].
	// Returns [os.ErrNotExist] if the file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves/renames a file or directory. See [os.Rename].
	// Atomic on the same filesystem.
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
