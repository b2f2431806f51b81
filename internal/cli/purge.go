package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kcache/pkg/kcache"
)

var errPurgeAborted = errors.New("purge aborted")

// PurgeCmd returns the purge command.
func PurgeCmd(a *app) *Command {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.BoolP("yes", "y", false, "Do not ask for confirmation")

	return &Command{
		Flags:    fs,
		Usage:    "purge [--yes]",
		Short:    "Delete every cached binary",
		Long:     "Delete every cache entry and its binary. Asks for confirmation unless --yes is given.",
		Examples: []string{"purge", "purge --yes"},
		Exec: func(_ context.Context, o *IO, _ []string) error {
			yes, _ := fs.GetBool("yes")

			return execPurge(o, a, yes)
		},
	}
}

// execPurge confirms before taking the exclusive lock. No lock is held
// while waiting for input.
func execPurge(o *IO, a *app, yes bool) error {
	count, root, err := countEntries(a)
	if err != nil {
		return err
	}

	if count == 0 {
		o.Println("nothing to purge in", root)

		return nil
	}

	if !yes {
		prompt := fmt.Sprintf("Delete %d cached binaries in %s? (yes/no): ", count, root)

		ok, err := confirm(o, prompt)
		if err != nil {
			return err
		}

		if !ok {
			return errPurgeAborted
		}
	}

	removed, err := purgeAll(o, a)
	if err != nil {
		return err
	}

	o.Printf("removed %d\n", removed)

	return nil
}

func countEntries(a *app) (int, string, error) {
	ix, err := openIndex(a, kcache.ReadOnly)
	if err != nil {
		return 0, "", err
	}

	count, root := ix.Len(), ix.Root()

	return count, root, ix.Close()
}

// purgeAll removes whatever the index holds once the lock is taken, which
// may differ from the count shown in the prompt.
func purgeAll(o *IO, a *app) (n int, err error) {
	ix, err := openIndex(a, kcache.ReadWrite)
	if err != nil {
		return 0, err
	}

	defer func() {
		err = errors.Join(err, ix.Close())
	}()

	removed, trimErr := ix.Trim(0)
	if trimErr != nil {
		o.Warn("%v", trimErr)
	}

	if err := ix.Persist(); err != nil {
		return 0, err
	}

	return len(removed), nil
}

// confirm asks a yes/no question. On a terminal it uses a line editor;
// otherwise it reads one line from the command's input.
func confirm(o *IO, prompt string) (bool, error) {
	var answer string

	if o.in == os.Stdin && liner.TerminalSupported() {
		state := liner.NewLiner()
		defer func() { _ = state.Close() }()

		state.SetCtrlCAborts(true)

		line, err := state.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return false, nil
			}

			return false, fmt.Errorf("reading answer: %w", err)
		}

		answer = line
	} else {
		o.Printf("%s", prompt)

		if o.in == nil {
			return false, nil
		}

		line, err := bufio.NewReader(o.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("reading answer: %w", err)
		}

		answer = line
		o.Println()
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
