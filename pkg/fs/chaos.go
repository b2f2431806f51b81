package fs

import (
	"errors"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.OpenFile fails. Read-only opens
	// return EACCES, EIO or EMFILE; write opens add ENOSPC and EROFS.
	OpenFailRate float64

	// ReadFailRate controls how often FS.ReadFile and File.Read fail with EIO.
	ReadFailRate float64

	// WriteFailRate controls how often FS.WriteFile and File.Write fail
	// without writing anything (EIO, ENOSPC or EROFS).
	WriteFailRate float64

	// StatFailRate controls how often FS.Stat, FS.Exists, FS.DirExists and
	// File.Stat fail with EACCES or EIO.
	StatFailRate float64

	// RemoveFailRate controls how often FS.Remove fails (EACCES, EBUSY, EIO).
	RemoveFailRate float64

	// LockFailRate controls how often File.Lock reports contention
	// ([ErrWouldBlock]) even though the lock is free.
	LockFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails   int64
	ReadFails   int64
	WriteFails  int64
	StatFails   int64
	RemoveFails int64
	LockFails   int64
}

// Total returns the sum of all injected faults.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.WriteFails + s.StatFails + s.RemoveFails + s.LockFails
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps the underlying error so errors.Is/As continue to work.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// Injected filesystem errors are [*os.PathError] values carrying a real
// [syscall.Errno], so helpers like [os.IsPermission] behave as they would on
// a real failure. Chaos never injects ENOENT or EEXIST: not-found and
// already-exists results always come from the wrapped [FS].
//
// Each call decides independently whether to inject; there is no sticky
// per-path fault state.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	openFails   atomic.Int64
	readFails   atomic.Int64
	writeFails  atomic.Int64
	statFails   atomic.Int64
	removeFails atomic.Int64
	lockFails   atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:   c.openFails.Load(),
		ReadFails:   c.readFails.Load(),
		WriteFails:  c.writeFails.Load(),
		StatFails:   c.statFails.Load(),
		RemoveFails: c.removeFails.Load(),
		LockFails:   c.lockFails.Load(),
	}
}

// OpenFile opens a file with fault injection.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		errnos := []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE}
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
			errnos = append(errnos, syscall.ENOSPC, syscall.EROFS)
		}

		return nil, chaosPathError("open", path, c.pick(errnos))
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c}, nil
}

// ReadFile reads a file's contents with fault injection.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, chaosPathError("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

// WriteFile writes a file with fault injection. An injected failure leaves
// the previous content untouched, matching an atomic replace that never
// reached the rename.
func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return chaosPathError("write", path, c.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EROFS}))
	}

	return c.fs.WriteFile(path, data, perm)
}

// MkdirAll is passed through; directory creation failures are not modelled.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// Stat returns file info with fault injection.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.statFault(path); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

// Exists reports whether path exists, with fault injection.
func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.statFault(path); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

// DirExists reports whether path is a directory, with fault injection.
func (c *Chaos) DirExists(path string) (bool, error) {
	if err := c.statFault(path); err != nil {
		return false, err
	}

	return c.fs.DirExists(path)
}

// Remove deletes path with fault injection.
func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return chaosPathError("remove", path, c.pick([]syscall.Errno{syscall.EACCES, syscall.EBUSY, syscall.EIO}))
	}

	return c.fs.Remove(path)
}

// Join is passed through.
func (c *Chaos) Join(elem ...string) string {
	return c.fs.Join(elem...)
}

func (c *Chaos) statFault(path string) error {
	if !c.should(c.config.StatFailRate) {
		return nil
	}

	c.statFails.Add(1)

	return chaosPathError("stat", path, c.pick([]syscall.Errno{syscall.EACCES, syscall.EIO}))
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) == ChaosModeNoOp || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) pick(errnos []syscall.Errno) syscall.Errno {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return errnos[c.rng.IntN(len(errnos))]
}

func chaosPathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &os.PathError{Op: op, Path: path, Err: errno}}
}

// chaosFile injects faults into the operations of an open file.
type chaosFile struct {
	File

	chaos *Chaos
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.ReadFailRate) {
		f.chaos.readFails.Add(1)

		return 0, chaosPathError("read", f.Name(), syscall.EIO)
	}

	return f.File.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.WriteFailRate) {
		f.chaos.writeFails.Add(1)

		return 0, chaosPathError("write", f.Name(), f.chaos.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EROFS}))
	}

	return f.File.Write(p)
}

func (f *chaosFile) Stat() (os.FileInfo, error) {
	if err := f.chaos.statFault(f.Name()); err != nil {
		return nil, err
	}

	return f.File.Stat()
}

func (f *chaosFile) Lock(mode LockMode) error {
	if f.chaos.should(f.chaos.config.LockFailRate) {
		f.chaos.lockFails.Add(1)

		return &chaosError{Err: ErrWouldBlock}
	}

	return f.File.Lock(mode)
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
