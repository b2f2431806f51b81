package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kcache/internal/compiler"
	"github.com/calvinalkan/kcache/pkg/kcache"
)

const defaultDevice = "default"

var (
	errKernelRequired = errors.New("kernel file is required")
	errNoCompiler     = errors.New(`no compiler configured (set "compiler" in the config file)`)
)

// BuildCmd returns the build command.
func BuildCmd(a *app) *Command {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.StringArrayP("device", "d", nil, "Device to build for (repeatable)")
	fs.String("platform", "", "Platform name (default from config)")
	fs.String("vendor", "", "Device vendor (default from config)")
	fs.String("driver-version", "", "Driver version (default from config)")
	fs.StringArrayP("define", "D", nil, "Preprocessor define NAME[=VALUE] (repeatable)")
	fs.StringP("options", "o", "", "Build options (default from config)")
	fs.String("out", "", "Write binaries to `dir`")

	return &Command{
		Flags: fs,
		Usage: "build <kernel-file> [flags]",
		Short: "Load a kernel from the cache or compile it",
		Long: "Resolve the kernel for each device: reuse a cached binary when it is\n" +
			"newer than the kernel file, otherwise compile it with the configured\n" +
			"compiler and store the result.",
		Examples: []string{
			"build kernels/saxpy.cl",
			"build saxpy.cl -d gpu0 -d gpu1 -D N=256 -o \"-cl-fast-relaxed-math\"",
			"--no-binaries build saxpy.cl --out bin",
		},
		MaxArgs: 1,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execBuild(ctx, io, a, fs, args)
		},
	}
}

func execBuild(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	if len(args) != 1 {
		return errKernelRequired
	}

	if len(a.cfg.Compiler) == 0 {
		return errNoCompiler
	}

	kernelPath := args[0]
	if !filepath.IsAbs(kernelPath) {
		kernelPath = filepath.Join(a.cfg.EffectiveCwd, kernelPath)
	}

	if _, err := os.Stat(kernelPath); err != nil {
		return fmt.Errorf("kernel file: %w", err)
	}

	req := kcache.Request{
		SourceName:   sourceName(a.cfg.EffectiveCwd, kernelPath),
		SourcePath:   kernelPath,
		Defines:      defineLines(stringArray(fs, "define")),
		BuildOptions: stringOr(fs, "options", a.cfg.BuildOptions),
	}

	platform := stringOr(fs, "platform", a.cfg.Platform)
	vendor := stringOr(fs, "vendor", a.cfg.Vendor)
	driverVersion := stringOr(fs, "driver-version", a.cfg.DriverVersion)

	names := stringArray(fs, "device")
	if len(names) == 0 {
		names = []string{defaultDevice}
	}

	for _, name := range names {
		req.Devices = append(req.Devices, kcache.Device{
			Platform:      platform,
			Name:          name,
			Vendor:        vendor,
			DriverVersion: driverVersion,
		})
	}

	comp, err := compiler.New(a.cfg.Compiler, compiler.WithLogger(a.log))
	if err != nil {
		return err
	}

	m := kcache.NewManager(a.fs, comp, kcache.Config{
		CacheRoot:          a.cfg.CacheRootAbs,
		MaxCachedBinaries:  a.cfg.MaxCachedBinaries,
		AttemptUseBinaries: a.cfg.AttemptUseBinaries,
		AttemptUseSource:   a.cfg.AttemptUseSource,
		Logger:             a.log,
	})

	prog, err := m.ResolveOrBuild(ctx, req)
	if err != nil {
		return err
	}

	origin := "compiled"
	if prog.FromCache {
		origin = "cached"
	}

	outDir, _ := fs.GetString("out")
	if outDir != "" && !filepath.IsAbs(outDir) {
		outDir = filepath.Join(a.cfg.EffectiveCwd, outDir)
	}

	for i, d := range req.Devices {
		line := fmt.Sprintf("%s\t%s\t%d bytes", d.Name, origin, len(prog.Binaries[i]))

		if outDir != "" {
			path := filepath.Join(outDir, binaryFileName(kernelPath, d.Name))

			if err := writeOutput(a, path, prog.Binaries[i]); err != nil {
				return err
			}

			line += "\t" + path
		}

		io.Println(line)

		// Compiler diagnostics of a successful build go to stderr so
		// warnings are seen without -v.
		if i < len(prog.BuildLogs) {
			if log := strings.TrimSpace(prog.BuildLogs[i]); log != "" {
				io.ErrPrintln("[" + d.Name + "]")
				io.ErrPrintln(log)
			}
		}
	}

	return nil
}

func writeOutput(a *app, path string, data []byte) error {
	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	if err := a.fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// sourceName keys kernels inside the working directory by their relative
// path, so a project keeps its cache entries when it is moved.
func sourceName(workDir, path string) string {
	rel, err := filepath.Rel(workDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}

	return filepath.ToSlash(rel)
}

func binaryFileName(kernelPath, device string) string {
	base := strings.TrimSuffix(filepath.Base(kernelPath), filepath.Ext(kernelPath))
	device = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}

		return r
	}, device)

	return base + "." + device + ".bin"
}

// defineLines turns NAME[=VALUE] arguments into #define lines.
func defineLines(defs []string) string {
	lines := make([]string, 0, len(defs))

	for _, d := range defs {
		name, value, _ := strings.Cut(d, "=")
		lines = append(lines, strings.TrimSpace("#define "+name+" "+value))
	}

	return strings.Join(lines, "\n")
}

func stringArray(fs *flag.FlagSet, name string) []string {
	v, _ := fs.GetStringArray(name)

	return v
}

func stringOr(fs *flag.FlagSet, name, fallback string) string {
	if !fs.Changed(name) {
		return fallback
	}

	v, _ := fs.GetString(name)

	return v
}
