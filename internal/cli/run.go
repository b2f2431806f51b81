// Package cli implements the kcache command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kcache/internal/config"
	"github.com/calvinalkan/kcache/pkg/fs"
)

var errUnknownCommand = errors.New("unknown command")

type globalOptions struct {
	flags *flag.FlagSet

	workDir    string
	configPath string
	cacheRoot  string
	maxCached  int
	binaries   bool
	noBinaries bool
	source     bool
	noSource   bool
	verbose    bool
	help       bool
}

func newGlobalOptions() *globalOptions {
	o := &globalOptions{flags: flag.NewFlagSet("kcache", flag.ContinueOnError)}

	f := o.flags
	f.SetInterspersed(false)
	f.SetOutput(&strings.Builder{})
	f.StringVarP(&o.workDir, "cwd", "C", "", "Run as if started in `dir`")
	f.StringVarP(&o.configPath, "config", "c", "", "Use specified config `file`")
	f.StringVar(&o.cacheRoot, "cache-root", "", "Cache root `dir`")
	f.IntVar(&o.maxCached, "max-cached", 0, "Maximum cached binaries, negative for unbounded")
	f.BoolVar(&o.binaries, "binaries", false, "Allow loading cached binaries")
	f.BoolVar(&o.noBinaries, "no-binaries", false, "Never load cached binaries")
	f.BoolVar(&o.source, "source", false, "Allow compiling from source")
	f.BoolVar(&o.noSource, "no-source", false, "Never compile from source")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Log cache decisions to stderr")
	f.BoolVarP(&o.help, "help", "h", false, "Show help")

	return o
}

func (o *globalOptions) overrides() (config.Overrides, error) {
	var ov config.Overrides

	if o.flags.Changed("cache-root") {
		ov.CacheRoot = &o.cacheRoot
	}

	if o.flags.Changed("max-cached") {
		ov.MaxCachedBinaries = &o.maxCached
	}

	switch {
	case o.binaries && o.noBinaries:
		return ov, errors.New("--binaries and --no-binaries are mutually exclusive")
	case o.binaries:
		ov.AttemptUseBinaries = ptr(true)
	case o.noBinaries:
		ov.AttemptUseBinaries = ptr(false)
	}

	switch {
	case o.source && o.noSource:
		return ov, errors.New("--source and --no-source are mutually exclusive")
	case o.source:
		ov.AttemptUseSource = ptr(true)
	case o.noSource:
		ov.AttemptUseSource = ptr(false)
	}

	return ov, nil
}

func ptr[T any](v T) *T { return &v }

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the running command's context, which stops a
// compiler that is still running. sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	opts := newGlobalOptions()

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	if err := opts.flags.Parse(rest); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, nil)

		return 1
	}

	remaining := opts.flags.Args()

	if opts.help || len(remaining) == 0 {
		printUsage(out, nil)

		return 0
	}

	overrides, err := opts.overrides()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: opts.workDir,
		ConfigPath:      opts.configPath,
		Overrides:       overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	app := &app{
		cfg: &cfg,
		fs:  fs.NewReal(),
		log: newLogger(errOut, opts.verbose),
	}

	commands := []*Command{
		BuildCmd(app),
		LsCmd(app),
		TrimCmd(app),
		PurgeCmd(app),
		PrintConfigCmd(app),
	}

	name := remaining[0]

	var cmd *Command

	for _, c := range commands {
		if c.Name() == name {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", errUnknownCommand, name))
		printUsage(errOut, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(in, out, errOut), remaining[1:])
}

// app carries what every command needs.
type app struct {
	cfg *config.Config
	fs  fs.FS
	log *logrus.Logger
}

func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	})

	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	return log
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, `kcache - compiled kernel binary cache

Usage: kcache [options] <command> [args]

Options:
  -C, --cwd <dir>          Run as if started in <dir>
  -c, --config <file>      Use specified config file
      --cache-root <dir>   Cache root directory
      --max-cached <n>     Maximum cached binaries (negative = unbounded)
      --[no-]binaries      Allow or forbid loading cached binaries
      --[no-]source        Allow or forbid compiling from source
  -v, --verbose            Log cache decisions to stderr

Commands:`)

	if commands == nil {
		commands = []*Command{BuildCmd(nil), LsCmd(nil), TrimCmd(nil), PurgeCmd(nil), PrintConfigCmd(nil)}
	}

	width := 0
	for _, c := range commands {
		width = max(width, len(c.Usage))
	}

	for _, c := range commands {
		fprintln(w, c.Summary(width))
	}
}
