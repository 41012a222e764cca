package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// field is a value a command can take from a flag or, failing that, from
// an interactive prompt.
type field struct {
	flag   string
	title  string
	value  *string
	secret bool
}

func (c *CLI) isInteractive() bool {
	if c.interactive != nil {
		return *c.interactive
	}
	f, ok := c.in.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// fill prompts for every empty field in one form. Without a terminal it
// reports the first missing flag instead.
func (c *CLI) fill(cmd *cobra.Command, fields ...field) error {
	var missing []huh.Field
	for _, f := range fields {
		if strings.TrimSpace(*f.value) != "" {
			continue
		}
		if !c.isInteractive() {
			return fmt.Errorf("required flag %q not set", f.flag)
		}

		input := huh.NewInput().
			Key(f.flag).
			Title(f.title).
			Value(f.value).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("this field is required")
				}
				return nil
			})
		if f.secret {
			input = input.EchoMode(huh.EchoModePassword)
		}
		missing = append(missing, input)
	}
	if len(missing) == 0 {
		return nil
	}

	form := huh.NewForm(huh.NewGroup(missing...)).
		WithInput(c.in).
		WithOutput(cmd.ErrOrStderr())
	return form.RunWithContext(cmd.Context())
}
