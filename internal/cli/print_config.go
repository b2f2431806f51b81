package cli

import (
	"context"
	"strings"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			execPrintConfig(io, a)

			return nil
		},
	}
}

func execPrintConfig(io *IO, a *app) {
	cfg := a.cfg

	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("cache_root=" + cfg.CacheRootAbs)
	io.Printf("max_cached_binaries=%d\n", cfg.MaxCachedBinaries)
	io.Printf("attempt_use_binaries=%t\n", cfg.AttemptUseBinaries)
	io.Printf("attempt_use_source=%t\n", cfg.AttemptUseSource)

	if len(cfg.Compiler) > 0 {
		io.Println("compiler=" + strings.Join(cfg.Compiler, " "))
	}

	for _, kv := range [][2]string{
		{"platform", cfg.Platform},
		{"vendor", cfg.Vendor},
		{"driver_version", cfg.DriverVersion},
		{"build_options", cfg.BuildOptions},
	} {
		if kv[1] != "" {
			io.Println(kv[0] + "=" + kv[1])
		}
	}

	io.Println()
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		io.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		io.Println("project_config=" + cfg.Sources.Project)
	}
}
