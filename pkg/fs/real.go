package fs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// Real implements [FS] using the real filesystem.
//
// Methods are passthroughs to the [os] package with identical error
// semantics, except [Real.WriteFile] which replaces the file atomically and
// [File.Lock] which uses flock(2). This implementation is Unix-only.
type Real struct {
	flock func(fd int, how int) error
}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{flock: unix.Flock}
}

// OpenFile is a passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(path, flag, perm) //nolint:gosec // path is intentionally caller-controlled
	if err != nil {
		return nil, err
	}

	return &realFile{File: f, flock: r.flock}, nil
}

// A passthrough wrapper for [os.ReadFile].
func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // path is intentionally caller-controlled
}

// WriteFile writes data to a temp file next to path and renames it into
// place, so readers see either the old or the new content.
//
// An existing file keeps its mode; a new file gets perm.
func (r *Real) WriteFile(path string, data []byte, perm os.FileMode) error {
	existed, err := r.Exists(path)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("atomic write %q: %w", path, err)
	}

	if !existed {
		if err := os.Chmod(path, perm); err != nil {
			return fmt.Errorf("chmod %q: %w", path, err)
		}
	}

	return nil
}

// A passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// A passthrough wrapper for [os.Stat].
func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Exists checks if a file exists using [os.Stat].
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// DirExists checks if path is an existing directory using [os.Stat].
func (r *Real) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.IsDir(), nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// A passthrough wrapper for [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

// A passthrough wrapper for [filepath.Join].
func (r *Real) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// realFile adds flock-based locking to [os.File].
type realFile struct {
	*os.File

	flock  func(fd int, how int) error
	mu     sync.Mutex
	locked bool
}

func (f *realFile) Lock(mode LockMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := flockNonBlocking(f.flock, int(f.Fd()), mode)
	if err != nil {
		return err
	}

	f.locked = true

	return nil
}

func (f *realFile) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.locked {
		return nil
	}

	f.locked = false

	err := flockRetryEINTR(f.flock, int(f.Fd()), unix.LOCK_UN)
	if err != nil {
		return fmt.Errorf("unlocking %q: %w", f.Name(), err)
	}

	return nil
}

// Close releases the lock (closing the descriptor would release it anyway)
// and closes the file.
func (f *realFile) Close() error {
	unlockErr := f.Unlock()
	closeErr := f.File.Close()

	return errors.Join(unlockErr, closeErr)
}

// Compile-time interface checks.
var (
	_ FS   = (*Real)(nil)
	_ File = (*realFile)(nil)
)
