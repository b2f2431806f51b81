package kcache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by kcache operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, kcache.ErrCacheMiss) {
//	    // compile from source instead
//	}
var (
	// ErrLockTimeout indicates the index file could not be opened and locked
	// within [IndexOptions.LockTimeout].
	//
	// Recovery: retry later, or find the process holding the index.
	ErrLockTimeout = errors.New("kcache: index lock timeout")

	// ErrIndexCorrupt indicates the index file could not be decoded.
	//
	// [Open] recovers from this on its own by starting with an empty index;
	// the old entries are dropped on the next [Index.Persist].
	ErrIndexCorrupt = errors.New("kcache: index corrupt")

	// ErrCacheMiss is the parent of every "cached binary is unusable" error.
	// [Manager] falls back to compiling from source on it when allowed.
	ErrCacheMiss = errors.New("kcache: cache miss")

	// ErrEntryNotFound indicates no entry matches the requested key.
	ErrEntryNotFound = fmt.Errorf("%w: entry not found", ErrCacheMiss)

	// ErrBinaryStale indicates the cached binary is older than its source file.
	ErrBinaryStale = fmt.Errorf("%w: binary older than source", ErrCacheMiss)

	// ErrBinaryRead indicates the cached binary could not be read or is empty.
	ErrBinaryRead = fmt.Errorf("%w: binary unreadable", ErrCacheMiss)

	// ErrResourceExhausted indicates [Index.Insert] gave up finding a free
	// binary file name.
	ErrResourceExhausted = errors.New("kcache: resource exhausted")

	// ErrNoBuildPath indicates both binary reuse and source compilation are
	// disabled, so no program can be produced.
	//
	// This is a configuration error.
	ErrNoBuildPath = errors.New("kcache: neither binaries nor source may be used")

	// ErrInvalidRequest indicates a [Request] cannot be served as given.
	//
	// This is a programming error.
	ErrInvalidRequest = errors.New("kcache: invalid request")

	// ErrReadOnly indicates a mutation on an [Index] opened with [ReadOnly].
	ErrReadOnly = errors.New("kcache: index is read-only")

	// ErrClosed indicates the [Index] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("kcache: closed")
)

// BuildError is returned by a [Compiler] when compilation fails. It carries
// one build log per device, in device order; a log may be empty.
//
// [Manager] always returns build errors to the caller unchanged.
type BuildError struct {
	Devices []string
	Logs    []string
	Err     error
}

func (e *BuildError) Error() string {
	var b strings.Builder

	b.WriteString("kcache: build failed")

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	for i, log := range e.Logs {
		log = strings.TrimSpace(log)
		if log == "" {
			continue
		}

		device := fmt.Sprintf("device %d", i)
		if i < len(e.Devices) && e.Devices[i] != "" {
			device = e.Devices[i]
		}

		fmt.Fprintf(&b, "\n[%s]\n%s", device, log)
	}

	return b.String()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
