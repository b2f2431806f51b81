package kcache

import "context"

// Device describes one compute device a kernel is built for.
type Device struct {
	Platform      string
	Name          string
	Vendor        string
	Version       string
	DriverVersion string
	AddressBits   int
	LittleEndian  bool
}

// SameAs reports whether d and o would receive identical binaries: same
// name, vendor, version, driver version, address width and byte order.
// The platform is not compared.
func (d Device) SameAs(o Device) bool {
	return d.Name == o.Name &&
		d.Vendor == o.Vendor &&
		d.Version == o.Version &&
		d.DriverVersion == o.DriverVersion &&
		d.AddressBits == o.AddressBits &&
		d.LittleEndian == o.LittleEndian
}

// Program is a built kernel program: one binary and one build log per
// device, in device order.
type Program struct {
	Binaries  [][]byte
	BuildLogs []string

	// FromCache is set when the binaries were loaded from the cache instead
	// of compiled from source.
	FromCache bool
}

// Compiler builds programs for a set of devices.
//
// Failures should be returned as [*BuildError] so that build logs reach the
// caller.
//
//go:generate mockgen -source=compiler.go -destination=mocks/mock_compiler.go -package=mocks
type Compiler interface {
	// BuildFromSource compiles source for every device. options is passed
	// to the compiler verbatim.
	BuildFromSource(ctx context.Context, source string, devices []Device, options string) (*Program, error)

	// BuildFromBinary loads previously compiled binaries, one per device.
	BuildFromBinary(ctx context.Context, binaries [][]byte, devices []Device) (*Program, error)
}
