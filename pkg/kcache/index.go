package kcache

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/kcache/pkg/fs"
)

// IndexFileName is the name of the index file inside a cache root.
const IndexFileName = "metainfo.xml"

const (
	// DefaultLockTimeout bounds how long [Open] keeps retrying.
	DefaultLockTimeout = 30 * time.Second

	// DefaultMaxNameAttempts bounds how many random names [Index.Insert]
	// tries before failing with [ErrResourceExhausted].
	DefaultMaxNameAttempts = 16

	retryBaseDelay   = 50 * time.Millisecond
	retryJitterDelay = 50 * time.Millisecond

	filePerm = 0o644
	dirPerm  = 0o755
)

// Access selects how an [Index] is opened.
type Access int

const (
	// ReadOnly takes a shared lock. Any number of readers may hold the index
	// at once; mutations fail with [ErrReadOnly].
	ReadOnly Access = iota + 1

	// ReadWrite takes an exclusive lock.
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// IndexOptions configures [Open]. The zero value uses the defaults.
type IndexOptions struct {
	// LockTimeout bounds how long Open retries opening and locking the index
	// file. Default: [DefaultLockTimeout].
	LockTimeout time.Duration

	// RetryDelay returns how long to sleep between attempts, both while
	// waiting for the index lock and after a binary name collision.
	// Default: 50ms plus up to 50ms of random jitter.
	RetryDelay func() time.Duration

	// NameGenerator returns candidate binary file names.
	// Default: random UUIDs.
	NameGenerator func() string

	// MaxNameAttempts bounds the number of names Insert tries.
	// Default: [DefaultMaxNameAttempts].
	MaxNameAttempts int

	// Logger receives warnings about recovered problems, such as a corrupt
	// index. Default: the logrus standard logger.
	Logger logrus.FieldLogger
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}

	if o.RetryDelay == nil {
		o.RetryDelay = defaultRetryDelay
	}

	if o.NameGenerator == nil {
		o.NameGenerator = uuid.NewString
	}

	if o.MaxNameAttempts <= 0 {
		o.MaxNameAttempts = DefaultMaxNameAttempts
	}

	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}

	return o
}

func defaultRetryDelay() time.Duration {
	return retryBaseDelay + rand.N(retryJitterDelay)
}

// Index is the set of cached binaries under one cache root.
//
// An Index holds a lock on its open index file from [Open] until
// [Index.Close]. The in-memory entry list is what [Index.Lookup] searches;
// [Index.Persist] writes it back. Entries keep insertion order, which is
// also eviction order for [Index.Trim].
//
// Methods are safe for concurrent use; they are serialized by an internal
// mutex.
type Index struct {
	mu sync.Mutex

	fs     fs.FS
	root   string
	path   string
	access Access
	opts   IndexOptions

	file    fs.File // nil once closed
	entries []Entry
}

// Open opens the index of the cache at root, creating root and the index
// file if needed, and locks it according to access.
//
// If the index file exists it is opened; otherwise it is created
// exclusively, and if another process wins that race the existing file is
// opened instead. Any failure, including lock contention, is retried with a
// randomized delay until opts.LockTimeout has passed; then Open fails with
// [ErrLockTimeout].
//
// If the index file cannot be decoded, Open logs a warning and returns an
// empty index. The undecodable content is replaced on the next
// [Index.Persist].
func Open(fsys fs.FS, root string, access Access, opts IndexOptions) (*Index, error) {
	if fsys == nil {
		panic("fs is nil")
	}

	if access != ReadOnly && access != ReadWrite {
		return nil, fmt.Errorf("kcache: invalid access %v", access)
	}

	opts = opts.withDefaults()

	if err := fsys.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("creating cache root %q: %w", root, err)
	}

	path := fsys.Join(root, IndexFileName)

	file, err := acquireIndexFile(fsys, path, access, opts)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		fs:     fsys,
		root:   root,
		path:   path,
		access: access,
		opts:   opts,
		file:   file,
	}

	entries, err := readIndex(file)
	if err != nil {
		opts.Logger.WithError(err).WithField("index", path).
			Warn("cache index unreadable, starting with an empty index")

		entries = nil
	}

	ix.entries = entries

	return ix, nil
}

func acquireIndexFile(fsys fs.FS, path string, access Access, opts IndexOptions) (fs.File, error) {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		file, err := tryAcquireIndexFile(fsys, path, access)
		if err == nil {
			return file, nil
		}

		elapsed := time.Since(start)
		if elapsed >= opts.LockTimeout {
			return nil, fmt.Errorf("%w: %s after %d attempts in %s: %w",
				ErrLockTimeout, path, attempt, elapsed.Round(time.Millisecond), err)
		}

		if attempt == 1 {
			opts.Logger.WithError(err).WithField("index", path).Debug("waiting for cache index")
		}

		time.Sleep(min(opts.RetryDelay(), opts.LockTimeout-elapsed))
	}
}

func tryAcquireIndexFile(fsys fs.FS, path string, access Access) (fs.File, error) {
	flag, mode := os.O_RDONLY, fs.LockShared
	if access == ReadWrite {
		flag, mode = os.O_RDWR, fs.LockExclusive
	}

	file, err := fsys.OpenFile(path, flag, 0)
	if errors.Is(err, os.ErrNotExist) {
		file, err = fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
		if errors.Is(err, os.ErrExist) {
			file, err = fsys.OpenFile(path, flag, 0)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	if err := file.Lock(mode); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("locking index (%s): %w", mode, err)
	}

	return file, nil
}

func readIndex(file fs.File) ([]Entry, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek: %w", ErrIndexCorrupt, err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrIndexCorrupt, err)
	}

	return decodeIndex(data)
}

// Root returns the cache root directory.
func (ix *Index) Root() string { return ix.root }

// Path returns the path of the index file.
func (ix *Index) Path() string { return ix.path }

// Access returns the mode the index was opened with.
func (ix *Index) Access() Access { return ix.access }

// BinaryPath returns the path of the file holding e's binary.
func (ix *Index) BinaryPath(e Entry) string {
	return ix.fs.Join(ix.root, e.BinaryName)
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return len(ix.entries)
}

// Entries returns a copy of the entries, oldest first.
func (ix *Index) Entries() []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return slices.Clone(ix.entries)
}

// Lookup returns the first entry whose key equals key exactly.
func (ix *Index) Lookup(key Key) (Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, e := range ix.entries {
		if e.Key == key {
			return e, true
		}
	}

	return Entry{}, false
}

// Insert reserves a new binary file for key and appends an entry for it.
//
// Insert creates an empty placeholder file under a fresh random name; the
// caller writes the binary to [Index.BinaryPath] afterwards. On a name
// collision it sleeps and tries another name, up to
// [IndexOptions.MaxNameAttempts] times, then fails with
// [ErrResourceExhausted].
//
// Insert does not look for an existing entry with the same key: call
// [Index.Lookup] first to avoid duplicates. The entry is in memory only
// until [Index.Persist].
func (ix *Index) Insert(key Key) (Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkWritableLocked(); err != nil {
		return Entry{}, err
	}

	for attempt := 1; attempt <= ix.opts.MaxNameAttempts; attempt++ {
		name := ix.opts.NameGenerator()

		if !validBinaryName(name) {
			return Entry{}, fmt.Errorf("kcache: generated invalid binary name %q", name)
		}

		file, err := ix.fs.OpenFile(ix.fs.Join(ix.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if err == nil {
			if err := file.Close(); err != nil {
				return Entry{}, fmt.Errorf("closing placeholder %q: %w", name, err)
			}

			entry := Entry{Key: key, BinaryName: name}
			ix.entries = append(ix.entries, entry)

			return entry, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return Entry{}, fmt.Errorf("creating placeholder %q: %w", name, err)
		}

		ix.opts.Logger.WithField("binary", name).Debug("binary name taken, retrying")

		time.Sleep(ix.opts.RetryDelay())
	}

	return Entry{}, fmt.Errorf("%w: no free binary name after %d attempts", ErrResourceExhausted, ix.opts.MaxNameAttempts)
}

// Persist replaces the content of the index file with the in-memory entries
// and syncs it.
func (ix *Index) Persist() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkWritableLocked(); err != nil {
		return err
	}

	data, err := encodeIndex(ix.entries)
	if err != nil {
		return err
	}

	if err := ix.file.Truncate(0); err != nil {
		return fmt.Errorf("truncating index: %w", err)
	}

	if _, err := ix.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking index: %w", err)
	}

	if _, err := ix.file.Write(data); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	if err := ix.file.Sync(); err != nil {
		return fmt.Errorf("syncing index: %w", err)
	}

	return nil
}

// Trim evicts the oldest entries until at most maxSize remain and deletes
// their binary files. A negative maxSize means unbounded and does nothing.
//
// Entries are dropped even when deleting their file fails; those errors are
// joined and returned after trimming finishes. Missing files are not errors.
// Trim does not persist.
func (ix *Index) Trim(maxSize int) ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkWritableLocked(); err != nil {
		return nil, err
	}

	if maxSize < 0 || len(ix.entries) <= maxSize {
		return nil, nil
	}

	n := len(ix.entries) - maxSize
	evicted := slices.Clone(ix.entries[:n])
	ix.entries = slices.Delete(ix.entries, 0, n)

	var errs []error

	for _, e := range evicted {
		err := ix.fs.Remove(ix.BinaryPath(e))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("deleting binary %q: %w", e.BinaryName, err))
		}
	}

	return evicted, errors.Join(errs...)
}

// Remove drops every entry whose key equals key and deletes their binary
// files. It returns the removed entries. Like [Index.Trim], it does not
// persist.
func (ix *Index) Remove(key Key) ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkWritableLocked(); err != nil {
		return nil, err
	}

	var (
		removed []Entry
		errs    []error
	)

	ix.entries = slices.DeleteFunc(ix.entries, func(e Entry) bool {
		if e.Key != key {
			return false
		}

		removed = append(removed, e)

		return true
	})

	for _, e := range removed {
		err := ix.fs.Remove(ix.BinaryPath(e))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("deleting binary %q: %w", e.BinaryName, err))
		}
	}

	return removed, errors.Join(errs...)
}

// Close releases the lock and closes the index file. Unpersisted changes
// are lost. Close is idempotent.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.file == nil {
		return nil
	}

	err := ix.file.Close()
	ix.file = nil

	if err != nil {
		return fmt.Errorf("closing index: %w", err)
	}

	return nil
}

func (ix *Index) checkWritableLocked() error {
	if ix.file == nil {
		return ErrClosed
	}

	if ix.access != ReadWrite {
		return ErrReadOnly
	}

	return nil
}
