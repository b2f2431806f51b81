package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kcache/pkg/kcache"
)

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.String("device", "", "Only show entries for `device`")

	return &Command{
		Flags:    fs,
		Usage:    "ls [flags]",
		Short:    "List cached binaries",
		Long:     "List cache entries, oldest first. The oldest entries are evicted first.",
		Examples: []string{"ls", "ls --device gpu0", "--cache-root /tmp/kc ls"},
		Exec: func(_ context.Context, io *IO, _ []string) error {
			device, _ := fs.GetString("device")

			return execLs(io, a, device)
		},
	}
}

func execLs(io *IO, a *app, device string) error {
	ix, err := openIndex(a, kcache.ReadOnly)
	if err != nil {
		return err
	}

	defer func() { _ = ix.Close() }()

	var buf strings.Builder

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BINARY\tKEY\tKERNEL\tPLATFORM\tDEVICE\tDRIVER\tSIZE")

	shown := 0

	for _, e := range ix.Entries() {
		if device != "" && e.Device != device {
			continue
		}

		size := "missing"
		if info, err := a.fs.Stat(ix.BinaryPath(e)); err == nil {
			size = fmt.Sprintf("%d", info.Size())
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.BinaryName, e.Digest(), e.Label(), dash(e.Platform), dash(e.Device), dash(e.DriverVersion), size)
		shown++
	}

	if shown == 0 {
		io.Println("no cached binaries in", ix.Root())

		return nil
	}

	_ = tw.Flush()
	io.Printf("%s", buf.String())

	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func openIndex(a *app, access kcache.Access) (*kcache.Index, error) {
	return kcache.Open(a.fs, a.cfg.CacheRootAbs, access, kcache.IndexOptions{Logger: a.log})
}
