// Package kcache caches compiled kernel binaries on disk.
//
// A compiled kernel depends on more than its source: the platform, the
// device, the driver version, the preprocessor defines and the build options
// all change the resulting binary. kcache records every binary under the
// full tuple that produced it (a [Key]) and only reuses a binary when the
// tuple matches exactly.
//
// # Layout
//
// A cache root directory holds an index file (metainfo.xml) and one opaque
// binary file per [Entry], named randomly:
//
//	root/
//	  metainfo.xml
//	  3f2a9c1e-...   (binary for entry 1)
//	  b81d07aa-...   (binary for entry 2)
//
// # Basic Usage
//
//	m := kcache.NewManager(fs.NewReal(), compiler, kcache.Config{
//	    CacheRoot:          "/var/cache/kernels",
//	    MaxCachedBinaries:  64,
//	    AttemptUseBinaries: true,
//	    AttemptUseSource:   true,
//	})
//
//	prog, err := m.ResolveOrBuild(ctx, kcache.Request{
//	    SourceName: "saxpy.cl",
//	    SourcePath: "kernels/saxpy.cl",
//	    Devices:    devices,
//	})
//
// # Concurrency
//
// Processes sharing a cache root coordinate through a lock held on the open
// index file for the lifetime of an [Index]: one writer ([ReadWrite]) or any
// number of readers ([ReadOnly]). [Open] retries for up to
// [DefaultLockTimeout] and then fails with [ErrLockTimeout].
//
// Methods on a single [Index] are serialized internally. Two [Index] values in
// the same process exclude each other exactly like two processes do.
//
// # Error Handling
//
// Cache misses ([ErrEntryNotFound], [ErrBinaryStale], [ErrBinaryRead], all
// matching [ErrCacheMiss]) are recovered by [Manager] when compiling from
// source is allowed. [*BuildError] and [ErrNoBuildPath] always reach the
// caller.
package kcache
