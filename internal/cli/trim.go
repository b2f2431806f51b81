package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kcache/pkg/kcache"
)

// TrimCmd returns the trim command.
func TrimCmd(a *app) *Command {
	fs := flag.NewFlagSet("trim", flag.ContinueOnError)
	fs.Int("max", 0, "Keep at most `N` entries (default: max_cached_binaries)")

	return &Command{
		Flags:    fs,
		Usage:    "trim [--max N]",
		Short:    "Evict the oldest cached binaries",
		Long:     "Evict the oldest entries until at most N remain and delete their binaries.",
		Examples: []string{"trim", "trim --max 16"},
		Exec: func(_ context.Context, io *IO, _ []string) error {
			maxSize := a.cfg.MaxCachedBinaries
			if fs.Changed("max") {
				maxSize, _ = fs.GetInt("max")
			}

			return execTrim(io, a, maxSize)
		},
	}
}

func execTrim(io *IO, a *app, maxSize int) (err error) {
	ix, err := openIndex(a, kcache.ReadWrite)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, ix.Close())
	}()

	evicted, trimErr := ix.Trim(maxSize)
	if trimErr != nil {
		io.Warn("%v", trimErr)
	}

	if len(evicted) > 0 {
		if err := ix.Persist(); err != nil {
			return err
		}
	}

	io.Printf("evicted %d, kept %d\n", len(evicted), ix.Len())

	return nil
}
