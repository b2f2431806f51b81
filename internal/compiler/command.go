// Package compiler runs an external kernel compiler as a [kcache.Compiler].
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/exec"
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/kcache/pkg/kcache"
)

// Placeholders expanded in a command template.
const (
	PlaceholderSource   = "{src}"
	PlaceholderOutput   = "{out}"
	PlaceholderDevice   = "{device}"
	PlaceholderPlatform = "{platform}"
	PlaceholderOptions  = "{options}"
)

// ErrEmptyTemplate is returned by [New] for an empty command template.
var ErrEmptyTemplate = errors.New("compiler command is empty")

// Command compiles kernels by running an external program once per device.
//
// The template is an argv. Every argument has the placeholders {src},
// {out}, {device} and {platform} replaced. An argument that is exactly
// {options} expands to the build options split on whitespace (or to nothing);
// elsewhere {options} is replaced verbatim. The program must write the
// binary to {out}; its combined output becomes the device's build log.
//
// Cached binaries are opaque to an external compiler, so BuildFromBinary
// only checks that every binary is present.
type Command struct {
	template []string
	exec     exec.Executor
	log      logrus.FieldLogger
}

// Option configures a [Command].
type Option func(*Command)

// WithExecutor replaces the executor that runs the compiler.
func WithExecutor(e exec.Executor) Option {
	return func(c *Command) {
		c.exec = e
	}
}

// WithLogger sets the logger. Default: the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Command) {
		c.log = l
	}
}

// New returns a Command running template.
func New(template []string, opts ...Option) (*Command, error) {
	if len(template) == 0 || template[0] == "" {
		return nil, ErrEmptyTemplate
	}

	c := &Command{
		template: append([]string(nil), template...),
		exec:     exec.New(exec.WithInheritEnv(), exec.WithDisableColors()),
		log:      logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BuildFromSource writes source to a temporary file and runs the compiler
// for each device in turn. If any device fails, the returned
// [*kcache.BuildError] carries the logs of every device attempted.
func (c *Command) BuildFromSource(ctx context.Context, source string, devices []kcache.Device, options string) (*kcache.Program, error) {
	dir, err := os.MkdirTemp("", "kcache-build-*")
	if err != nil {
		return nil, fmt.Errorf("creating build dir: %w", err)
	}

	defer func() { _ = os.RemoveAll(dir) }()

	src := filepath.Join(dir, "kernel.cl")

	if err := os.WriteFile(src, []byte(source), 0o600); err != nil {
		return nil, fmt.Errorf("writing source: %w", err)
	}

	prog := &kcache.Program{
		Binaries:  make([][]byte, len(devices)),
		BuildLogs: make([]string, len(devices)),
	}

	names := make([]string, len(devices))

	for i, d := range devices {
		names[i] = d.Name
		out := filepath.Join(dir, fmt.Sprintf("device-%d.bin", i))
		args := expand(c.template, src, out, d, options)

		c.log.WithField("device", d.Name).Debugf("running %s", strings.Join(args, " "))

		res, runErr := c.exec.Clone().WithContext(ctx).Run(args...)
		if res != nil {
			prog.BuildLogs[i] = res.Combined
		}

		if runErr != nil {
			return nil, &kcache.BuildError{Devices: names[:i+1], Logs: prog.BuildLogs[:i+1], Err: runErr}
		}

		bin, err := os.ReadFile(out)
		if err != nil || len(bin) == 0 {
			return nil, &kcache.BuildError{
				Devices: names[:i+1],
				Logs:    prog.BuildLogs[:i+1],
				Err:     fmt.Errorf("compiler produced no binary for %q: %w", d.Name, errors.Join(err, errNoOutput)),
			}
		}

		prog.Binaries[i] = bin
	}

	return prog, nil
}

var errNoOutput = errors.New("output missing or empty")

// BuildFromBinary returns binaries as the program after checking there is a
// non-empty binary per device.
func (c *Command) BuildFromBinary(_ context.Context, binaries [][]byte, devices []kcache.Device) (*kcache.Program, error) {
	if len(binaries) != len(devices) {
		return nil, &kcache.BuildError{Err: fmt.Errorf("%d binaries for %d devices", len(binaries), len(devices))}
	}

	names := make([]string, len(devices))
	logs := make([]string, len(devices))

	for i, d := range devices {
		names[i] = d.Name

		if len(binaries[i]) == 0 {
			logs[i] = "empty binary"

			return nil, &kcache.BuildError{Devices: names, Logs: logs, Err: fmt.Errorf("empty binary for %q", d.Name)}
		}
	}

	return &kcache.Program{Binaries: binaries, BuildLogs: logs}, nil
}

func expand(template []string, src, out string, d kcache.Device, options string) []string {
	r := strings.NewReplacer(
		PlaceholderSource, src,
		PlaceholderOutput, out,
		PlaceholderDevice, d.Name,
		PlaceholderPlatform, d.Platform,
		PlaceholderOptions, options,
	)

	args := make([]string, 0, len(template))

	for _, arg := range template {
		if arg == PlaceholderOptions {
			args = append(args, strings.Fields(options)...)

			continue
		}

		args = append(args, r.Replace(arg))
	}

	return args
}

var _ kcache.Compiler = (*Command)(nil)
