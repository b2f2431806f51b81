package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// Mem implements [FS] entirely in memory on top of go-billy's memfs.
//
// It exists so the cache can run against a virtualized store. Two things
// memfs does not provide are layered on top:
//   - locks: [File.Lock] is enforced between handles of the same Mem, which
//     gives the same conflict rules flock(2) gives between open descriptors.
//   - modification times: writes stamp files with the Mem's clock so
//     staleness checks behave deterministically.
//
// Mem serializes all operations with a single mutex.
type Mem struct {
	mu     sync.Mutex
	bfs    billy.Filesystem
	now    func() time.Time
	mtimes map[string]time.Time
	locks  map[string]*memLock
}

type memLock struct {
	shared    int
	exclusive bool
}

// MemOption configures a [Mem].
type MemOption func(*Mem)

// WithClock sets the clock used to stamp modification times.
func WithClock(now func() time.Time) MemOption {
	return func(m *Mem) {
		m.now = now
	}
}

// NewMem returns an empty in-memory filesystem.
func NewMem(opts ...MemOption) *Mem {
	m := &Mem{
		bfs:    memfs.New(),
		now:    time.Now,
		mtimes: make(map[string]time.Time),
		locks:  make(map[string]*memLock),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Unwrap returns the underlying billy.Filesystem.
func (m *Mem) Unwrap() billy.Filesystem {
	return m.bfs
}

// OpenFile opens path in the in-memory store. See [os.OpenFile].
func (m *Mem) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = memClean(path)

	existed := m.existsLocked(path)

	bf, err := m.bfs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, memPathError("open", path, err)
	}

	if !existed || flag&os.O_TRUNC != 0 {
		m.mtimes[path] = m.now()
	}

	return &memFile{fs: m, file: bf, path: path}, nil
}

// ReadFile reads the whole file at path.
func (m *Mem) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = memClean(path)

	data, err := util.ReadFile(m.bfs, path)
	if err != nil {
		return nil, memPathError("read", path, err)
	}

	return data, nil
}

// WriteFile replaces the content of path. The mutex makes the replacement
// atomic with respect to every other Mem operation.
func (m *Mem) WriteFile(path string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = memClean(path)

	err := util.WriteFile(m.bfs, path, data, perm)
	if err != nil {
		return memPathError("write", path, err)
	}

	m.mtimes[path] = m.now()

	return nil
}

// MkdirAll creates path and any missing parents.
func (m *Mem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bfs.MkdirAll(memClean(path), perm)
}

// Stat returns file info with the modification time tracked by Mem.
func (m *Mem) Stat(path string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.statLocked(memClean(path))
}

// Exists reports whether path exists.
func (m *Mem) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.existsLocked(memClean(path)), nil
}

// DirExists reports whether path exists and is a directory.
func (m *Mem) DirExists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.bfs.Stat(memClean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return info.IsDir(), nil
}

// Remove deletes path.
func (m *Mem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = memClean(path)

	if err := m.bfs.Remove(path); err != nil {
		return memPathError("remove", path, err)
	}

	delete(m.mtimes, path)

	return nil
}

// Join joins path elements using the memfs separator.
func (m *Mem) Join(elem ...string) string {
	return m.bfs.Join(elem...)
}

// Chtimes sets the modification time of an existing file, like [os.Chtimes].
func (m *Mem) Chtimes(path string, mtime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = memClean(path)

	if !m.existsLocked(path) {
		return memPathError("chtimes", path, os.ErrNotExist)
	}

	m.mtimes[path] = mtime

	return nil
}

func (m *Mem) existsLocked(path string) bool {
	_, err := m.bfs.Stat(path)

	return err == nil
}

func (m *Mem) statLocked(path string) (os.FileInfo, error) {
	info, err := m.bfs.Stat(path)
	if err != nil {
		return nil, memPathError("stat", path, err)
	}

	return memInfo{FileInfo: info, mtime: m.mtimes[path]}, nil
}

func (m *Mem) lockLocked(path string, mode LockMode) error {
	lk := m.locks[path]
	if lk == nil {
		lk = &memLock{}
		m.locks[path] = lk
	}

	switch mode {
	case LockExclusive:
		if lk.exclusive || lk.shared > 0 {
			return ErrWouldBlock
		}

		lk.exclusive = true
	case LockShared:
		if lk.exclusive {
			return ErrWouldBlock
		}

		lk.shared++
	default:
		return fmt.Errorf("invalid lock mode %v", mode)
	}

	return nil
}

func (m *Mem) unlockLocked(path string, mode LockMode) {
	lk := m.locks[path]
	if lk == nil {
		return
	}

	if mode == LockExclusive {
		lk.exclusive = false
	} else if lk.shared > 0 {
		lk.shared--
	}

	if !lk.exclusive && lk.shared == 0 {
		delete(m.locks, path)
	}
}

func memClean(path string) string {
	return filepath.Clean(path)
}

func memPathError(op, path string, err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return err
	}

	return &os.PathError{Op: op, Path: path, Err: err}
}

// memInfo overrides ModTime, which memfs always reports as time.Now.
type memInfo struct {
	os.FileInfo

	mtime time.Time
}

func (i memInfo) ModTime() time.Time { return i.mtime }

// memFile is a handle on a Mem file. Every call goes through the owning
// Mem's mutex.
type memFile struct {
	fs   *Mem
	file billy.File
	path string

	held   LockMode
	closed bool
}

func (f *memFile) Name() string { return f.path }

func (f *memFile) Read(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}

	return f.file.Read(p)
}

func (f *memFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}

	n, err := f.file.Write(p)
	if n > 0 {
		f.fs.mtimes[f.path] = f.fs.now()
	}

	return n, err
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}

	return f.file.Seek(offset, whence)
}

func (f *memFile) Truncate(size int64) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}

	if err := f.file.Truncate(size); err != nil {
		return err
	}

	f.fs.mtimes[f.path] = f.fs.now()

	return nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return nil, os.ErrClosed
	}

	return f.fs.statLocked(f.path)
}

// Sync is a no-op; memory is the stable storage.
func (f *memFile) Sync() error {
	return nil
}

func (f *memFile) Lock(mode LockMode) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}

	if f.held == mode {
		return nil
	}

	if f.held != 0 {
		f.fs.unlockLocked(f.path, f.held)
		f.held = 0
	}

	if err := f.fs.lockLocked(f.path, mode); err != nil {
		return err
	}

	f.held = mode

	return nil
}

func (f *memFile) Unlock() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	f.unlockLocked()

	return nil
}

func (f *memFile) unlockLocked() {
	if f.held != 0 {
		f.fs.unlockLocked(f.path, f.held)
		f.held = 0
	}
}

func (f *memFile) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}

	f.unlockLocked()
	f.closed = true

	return f.file.Close()
}

// Compile-time interface checks.
var (
	_ FS   = (*Mem)(nil)
	_ File = (*memFile)(nil)
)
