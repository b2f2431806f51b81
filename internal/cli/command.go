package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

var errTooManyArgs = errors.New("too many arguments")

// Command is one kcache subcommand. Help output for both the command list
// and "kcache <cmd> --help" is generated from these fields.
type Command struct {
	// Flags are the command's own flags. Global options such as --cache-root
	// are parsed by [Run] before the command name.
	Flags *flag.FlagSet

	// Usage starts with the command name, followed by its arguments.
	// Examples: "build <kernel-file> [flags]", "trim [--max N]".
	Usage string

	// Short is the one-line summary in the command list.
	Short string

	// Long is the description in command help. Defaults to Short.
	Long string

	// Examples are complete invocations shown in command help.
	Examples []string

	// MaxArgs is the number of positional arguments accepted.
	MaxArgs int

	// Exec runs the command with its positional arguments.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// Summary returns the command-list line with Usage padded to width.
func (c *Command) Summary(width int) string {
	return fmt.Sprintf("  %-*s  %s", width, c.Usage, c.Short)
}

// PrintHelp writes the help for "kcache <cmd> --help" to stdout.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage:")
	o.Println("  kcache [options]", c.Usage)
	o.Println()

	if c.Long != "" {
		o.Println(c.Long)
	} else {
		o.Println(c.Short)
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		o.Printf("%s", c.Flags.FlagUsages())
	}

	if len(c.Examples) > 0 {
		o.Println()
		o.Println("Examples:")

		for _, ex := range c.Examples {
			o.Println("  kcache", ex)
		}
	}

	o.Println()
	o.Println("Run 'kcache --help' for global options.")
}

// Run parses flags, checks the argument count and executes the command.
// Usage errors go to stderr with a pointer to the command help; they never
// reach Exec. Returns the exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		c.usageError(o, err)

		return 1
	}

	rest := c.Flags.Args()
	if len(rest) > c.MaxArgs {
		c.usageError(o, fmt.Errorf("%w: %s accepts %d, got %d", errTooManyArgs, c.Name(), c.MaxArgs, len(rest)))

		return 1
	}

	if err := c.Exec(ctx, o, rest); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

func (c *Command) usageError(o *IO, err error) {
	o.ErrPrintln("error:", err)
	o.ErrPrintln("Usage: kcache", c.Usage)
	o.ErrPrintln("Run 'kcache " + c.Name() + " --help' for details.")
}
