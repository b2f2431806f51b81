package kcache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key is the full compilation context a binary was produced under.
//
// Keys are compared field by field, including empty fields. Exactly one of
// Source and SourceName is normally set: SourceName when the kernel is
// identified by a logical name (usually its file name), Source when it is
// identified by its verbatim text.
type Key struct {
	Source        string
	SourceName    string
	Platform      string
	Device        string
	DriverVersion string
	Defines       string
	BuildOptions  string
}

// Digest returns a short fingerprint of the key for logs and listings.
// Lookups never use it.
func (k Key) Digest() string {
	h := xxhash.New()

	for _, field := range []string{
		k.Source, k.SourceName, k.Platform, k.Device, k.DriverVersion, k.Defines, k.BuildOptions,
	} {
		_, _ = h.WriteString(field)
		_, _ = h.Write([]byte{0})
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

// Label returns a human-readable name for the kernel: the source name, or a
// shortened form of the inline source.
func (k Key) Label() string {
	if k.SourceName != "" {
		return k.SourceName
	}

	const maxLabel = 32

	label := []rune(k.Source)
	if len(label) > maxLabel {
		return string(label[:maxLabel]) + "..."
	}

	return string(label)
}

// Entry is one cached binary: the key it was built under and the name of
// the file holding its bytes, relative to the cache root.
type Entry struct {
	Key

	BinaryName string
}
