package kcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/kcache/pkg/fs"
)

const binaryPerm = 0o644

// Config configures a [Manager].
type Config struct {
	// CacheRoot is the directory holding the index file and binaries.
	CacheRoot string

	// MaxCachedBinaries is the number of entries kept after populating the
	// cache. Older entries are evicted first. Negative means unbounded.
	MaxCachedBinaries int

	// AttemptUseBinaries enables loading programs from cached binaries.
	AttemptUseBinaries bool

	// AttemptUseSource enables compiling programs from source. Every
	// successful compilation populates the cache.
	AttemptUseSource bool

	// Logger receives debug and warning output. Default: the logrus
	// standard logger.
	Logger logrus.FieldLogger

	// Index is passed to [Open]. A nil Index.Logger inherits Logger.
	Index IndexOptions
}

// Request identifies a kernel and the devices to build it for.
type Request struct {
	// Source is the kernel source text. If empty, the source is read from
	// SourcePath when it has to be compiled.
	Source string

	// SourceName is the logical name of the kernel. When set, the kernel is
	// keyed by name; otherwise it is keyed by its source text. Defaults to
	// SourcePath when both Source and SourceName are empty.
	SourceName string

	// SourcePath is the kernel source file. When set, cached binaries older
	// than this file are ignored.
	SourcePath string

	// Defines are preprocessor definitions. They are prepended to the source
	// text as one line and are part of the cache key.
	Defines string

	// BuildOptions are passed to the compiler and are part of the cache key.
	BuildOptions string

	// Devices to build for. At least one is required.
	Devices []Device
}

// Manager resolves programs from the cache or by compiling them, and keeps
// the cache populated with what it compiles.
//
// A Manager opens the index for each call and closes it before returning, so
// many Managers and processes can share one cache root.
type Manager struct {
	fs       fs.FS
	compiler Compiler
	cfg      Config
	log      logrus.FieldLogger
}

// NewManager returns a Manager storing its cache on fsys under
// cfg.CacheRoot.
func NewManager(fsys fs.FS, compiler Compiler, cfg Config) *Manager {
	if fsys == nil {
		panic("fs is nil")
	}

	if compiler == nil {
		panic("compiler is nil")
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if cfg.Index.Logger == nil {
		cfg.Index.Logger = log
	}

	return &Manager{
		fs:       fsys,
		compiler: compiler,
		cfg:      cfg,
		log:      log.WithField("root", cfg.CacheRoot),
	}
}

// ResolveOrBuild returns a program for req.
//
// With only binaries enabled, the program is loaded from the cache and any
// failure is returned, for example [ErrEntryNotFound]. With only source
// enabled, it is compiled and the cache is populated. With both enabled, the
// cache is tried first and any failure falls back to compiling. With
// neither, [ErrNoBuildPath] is returned.
//
// Failures to populate the cache are logged, not returned.
func (m *Manager) ResolveOrBuild(ctx context.Context, req Request) (*Program, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	switch {
	case m.cfg.AttemptUseBinaries && m.cfg.AttemptUseSource:
		prog, err := m.loadCached(ctx, req)
		if err == nil {
			return prog, nil
		}

		m.log.WithError(err).WithField("kernel", requestLabel(req)).Debug("cached binaries unusable, building from source")

		return m.buildAndStore(ctx, req)

	case m.cfg.AttemptUseBinaries:
		return m.loadCached(ctx, req)

	case m.cfg.AttemptUseSource:
		return m.buildAndStore(ctx, req)

	default:
		return nil, ErrNoBuildPath
	}
}

func normalizeRequest(req Request) (Request, error) {
	if len(req.Devices) == 0 {
		return req, fmt.Errorf("%w: no devices", ErrInvalidRequest)
	}

	if req.Source == "" && req.SourceName == "" && req.SourcePath == "" {
		return req, fmt.Errorf("%w: one of source, source name or source path is required", ErrInvalidRequest)
	}

	if req.Source == "" && req.SourceName == "" {
		req.SourceName = req.SourcePath
	}

	return req, nil
}

func requestLabel(req Request) string {
	return Key{Source: req.Source, SourceName: req.SourceName}.Label()
}

// keyFor returns the cache key of req built for device d.
func keyFor(req Request, d Device) Key {
	k := Key{
		SourceName:    req.SourceName,
		Platform:      d.Platform,
		Device:        d.Name,
		DriverVersion: d.DriverVersion,
		Defines:       req.Defines,
		BuildOptions:  req.BuildOptions,
	}

	if req.SourceName == "" {
		k.Source = req.Source
	}

	return k
}

func (m *Manager) loadCached(ctx context.Context, req Request) (*Program, error) {
	binaries, err := m.readCachedBinaries(req)
	if err != nil {
		return nil, err
	}

	prog, err := m.compiler.BuildFromBinary(ctx, binaries, req.Devices)
	if err != nil {
		return nil, err
	}

	prog.FromCache = true

	return prog, nil
}

// readCachedBinaries looks up one binary per device under a shared lock.
// The lock is released before the binaries are handed to the compiler.
func (m *Manager) readCachedBinaries(req Request) (binaries [][]byte, err error) {
	ix, err := Open(m.fs, m.cfg.CacheRoot, ReadOnly, m.cfg.Index)
	if err != nil {
		return nil, err
	}

	defer func() {
		err = errors.Join(err, ix.Close())
	}()

	var sourceModTime time.Time

	if req.SourcePath != "" {
		info, err := m.fs.Stat(req.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("stat source: %w", err)
		}

		sourceModTime = info.ModTime()
	}

	binaries = make([][]byte, len(req.Devices))

devices:
	for i, d := range req.Devices {
		for j := range i {
			if req.Devices[j].SameAs(d) {
				binaries[i] = binaries[j]

				continue devices
			}
		}

		key := keyFor(req, d)

		entry, ok := ix.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %q", ErrEntryNotFound, key.Label(), d.Name)
		}

		data, err := m.readBinary(ix, entry, sourceModTime)
		if err != nil {
			return nil, err
		}

		m.log.WithFields(logrus.Fields{
			"key":    key.Digest(),
			"device": d.Name,
			"binary": entry.BinaryName,
		}).Debug("cache hit")

		binaries[i] = data
	}

	return binaries, nil
}

func (m *Manager) readBinary(ix *Index, entry Entry, sourceModTime time.Time) ([]byte, error) {
	path := ix.BinaryPath(entry)

	info, err := m.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryRead, entry.BinaryName, err)
	}

	if info.ModTime().Before(sourceModTime) {
		return nil, fmt.Errorf("%w: %s", ErrBinaryStale, entry.BinaryName)
	}

	data, err := m.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryRead, entry.BinaryName, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrBinaryRead, entry.BinaryName)
	}

	return data, nil
}

func (m *Manager) buildAndStore(ctx context.Context, req Request) (*Program, error) {
	source, err := m.sourceText(req)
	if err != nil {
		return nil, err
	}

	prog, err := m.compiler.BuildFromSource(ctx, source, req.Devices, req.BuildOptions)
	if err != nil {
		return nil, err
	}

	if len(prog.Binaries) != len(req.Devices) {
		m.log.WithField("kernel", requestLabel(req)).
			Warnf("compiler returned %d binaries for %d devices, not caching", len(prog.Binaries), len(req.Devices))

		return prog, nil
	}

	if err := m.store(req, prog.Binaries); err != nil {
		m.log.WithError(err).WithField("kernel", requestLabel(req)).Warn("populating cache failed")
	}

	return prog, nil
}

// sourceText returns the text handed to the compiler: the defines line
// followed by the kernel source.
func (m *Manager) sourceText(req Request) (string, error) {
	source := req.Source

	if source == "" {
		if req.SourcePath == "" {
			return "", fmt.Errorf("%w: no source text or source path to compile", ErrInvalidRequest)
		}

		data, err := m.fs.ReadFile(req.SourcePath)
		if err != nil {
			return "", fmt.Errorf("reading source: %w", err)
		}

		source = string(data)
	}

	if req.Defines == "" {
		return source, nil
	}

	return req.Defines + "\n" + source, nil
}

// store writes binaries into the cache under an exclusive lock. An existing
// entry for a key is reused and its binary overwritten, so repeated builds
// do not accumulate duplicates.
func (m *Manager) store(req Request, binaries [][]byte) (err error) {
	ix, err := Open(m.fs, m.cfg.CacheRoot, ReadWrite, m.cfg.Index)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, ix.Close())
	}()

	var errs []error

	for i, d := range req.Devices {
		if len(binaries[i]) == 0 {
			continue
		}

		key := keyFor(req, d)

		entry, ok := ix.Lookup(key)
		if !ok {
			entry, err = ix.Insert(key)
			if err != nil {
				errs = append(errs, err)

				continue
			}
		}

		log := m.log.WithFields(logrus.Fields{
			"key":    key.Digest(),
			"device": d.Name,
			"binary": entry.BinaryName,
		})

		if err := m.fs.WriteFile(ix.BinaryPath(entry), binaries[i], binaryPerm); err != nil {
			errs = append(errs, fmt.Errorf("writing binary %q: %w", entry.BinaryName, err))

			if _, rmErr := ix.Remove(key); rmErr != nil {
				errs = append(errs, rmErr)
			}

			continue
		}

		if ok {
			log.Debug("cache entry updated")
		} else {
			log.Debug("cache entry added")
		}
	}

	if err := ix.Persist(); err != nil {
		return errors.Join(append(errs, err)...)
	}

	evicted, trimErr := ix.Trim(m.cfg.MaxCachedBinaries)
	if trimErr != nil {
		errs = append(errs, trimErr)
	}

	for _, e := range evicted {
		m.log.WithFields(logrus.Fields{
			"key":    e.Digest(),
			"binary": e.BinaryName,
		}).Debug("cache entry evicted")
	}

	if len(evicted) > 0 {
		if err := ix.Persist(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
