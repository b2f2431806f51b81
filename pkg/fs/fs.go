// Package fs provides the filesystem abstraction used by the kernel cache.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files, including non-blocking locks
//   - [Real]: production implementation using [os] and flock(2)
//   - [Mem]: in-memory implementation backed by go-billy's memfs
//   - [Chaos]: testing implementation that injects random failures
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("metainfo.xml", os.O_RDWR, 0o644)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	if err := f.Lock(fs.LockExclusive); err != nil {
//	    return err // fs.ErrWouldBlock if someone else holds it
//	}
package fs

import (
	"io"
	"os"
)

// File represents an open file.
//
// Like [os.File], Write returns an error when the file wasn't opened for
// writing. Close releases any lock taken with [File.Lock].
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	// Embedded interfaces from [io] package.
	// These provide Read, Write, Close, and Seek methods.
	io.ReadWriteCloser
	io.Seeker

	// Name returns the path the file was opened with.
	Name() string

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to stable storage. See [os.File.Sync].
	Sync() error

	// Truncate changes the size of the file. See [os.File.Truncate].
	Truncate(size int64) error

	// Lock takes a lock on the open file without blocking.
	//
	// Returns [ErrWouldBlock] if a conflicting lock is held through another
	// handle, in this process or another one. The lock is released by
	// [File.Unlock] or [io.Closer.Close].
	Lock(mode LockMode) error

	// Unlock releases a lock taken with [File.Lock]. Unlocking a file that is
	// not locked is a no-op.
	Unlock() error
}

// FS defines the filesystem operations the cache relies on.
//
// Implementations in this package include:
//   - [Real]: production use, wraps [os] package
//   - [Mem]: virtual store, nothing touches the disk
//   - [Chaos]: testing use, injects random failures
//
// Paths use OS semantics (like the os package and path/filepath). Use
// [FS.Join] to build paths so virtual implementations can pick their own
// separator.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	//
	// Common flags: [os.O_RDONLY], [os.O_WRONLY], [os.O_RDWR],
	// [os.O_CREATE], [os.O_EXCL], [os.O_TRUNC].
	// With O_CREATE|O_EXCL, an existing file yields an error matching [os.ErrExist].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces the content of path with data, creating it if
	// necessary. Readers never observe a partially written file.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	// Returns an error matching [os.ErrNotExist] if the file doesn't exist.
	// ModTime reports the last write time.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// DirExists reports whether path exists and is a directory.
	DirExists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Join joins path elements with the filesystem's separator.
	Join(elem ...string) string
}
