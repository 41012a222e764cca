package cli

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/billing/internal/portal/app"
	"github.com/aussiebroadwan/billing/pkg/cryptox"
)

// ErrForbidden is returned when the user lacks every role a command accepts.
var ErrForbidden = errors.New("permission denied")

// withRoles is withApp gated on the session's roles. An empty role list
// admits everyone, logged in or not.
func (c *CLI) withRoles(roles []string, fn func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
	return c.withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
		if len(roles) > 0 && !a.Session().CheckAndRefreshToken(cmd.Context()) {
			return ErrLoginRequired
		}
		if !a.Session().HasAnyRole(cmd.Context(), roles...) {
			return fmt.Errorf("%w: requires one of %s", ErrForbidden, strings.Join(roles, ", "))
		}
		return fn(cmd, a, args)
	})
}

func (c *CLI) addAdminCommands() {
	var showMetrics bool
	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Show a redacted view of the stored session",
		Args:  cobra.NoArgs,
	}
	debugCmd.Flags().BoolVar(&showMetrics, "metrics", false, "include session counters")
	debugCmd.RunE = c.withRoles(nil, func(cmd *cobra.Command, a *app.Application, _ []string) error {
		info := a.Session().DebugInfo(cmd.Context())
		var counters map[string]float64
		if showMetrics {
			var err error
			if counters, err = gatherCounters(a); err != nil {
				return err
			}
		}

		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		out := struct {
			Session any                `json:"session"`
			Metrics map[string]float64 `json:"metrics,omitempty"`
			Profile string             `json:"profile"`
			APIURL  string             `json:"apiUrl"`
		}{info, counters, a.Config().Profile, a.Config().APIURL}

		return p.value(out, func() {
			p.heading("Session")
			var expiry string
			if !info.Expiry.IsZero() {
				expiry = info.Expiry.Local().Format(time.RFC3339) + " (" + info.ExpiresIn + ")"
			}
			p.fields(
				"Logged in", yesNo(info.LoggedIn),
				"Profile", a.Config().Profile,
				"Store", info.Store,
				"Access token", info.AccessToken,
				"Refresh token", info.RefreshToken,
				"Expiry", expiry,
				"Customer", info.CustomerID,
				"Session id", info.SessionID,
				"User", displayName(info.User),
				"Store keys", strings.Join(info.StoreKeys, ", "),
				"Cookie keys", strings.Join(info.CookieKeys, ", "),
				"Last broadcast", yesNo(info.LastAuthBroadcast),
			)
			if len(counters) > 0 {
				p.heading("Metrics")
				names := slices.Sorted(maps.Keys(counters))
				pairs := make([]string, 0, 2*len(names))
				for _, n := range names {
					pairs = append(pairs, n, strconv.FormatFloat(counters[n], 'f', -1, 64))
				}
				p.fields(pairs...)
			}
		})
	})

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "List stored session profiles",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			profiles, err := a.Store().Profiles(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(profiles, func() {
				for _, name := range profiles {
					marker := "  "
					if name == a.Config().Profile {
						marker = "* "
					}
					fmt.Fprintln(p.w, marker+name)
				}
			})
		}),
	}

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete profiles untouched for a while",
		Args:  cobra.NoArgs,
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum idle time")
	pruneCmd.RunE = c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		n, err := a.PruneProfiles(cmd.Context(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.message("Pruned %d profile(s)", n)
	})
	profilesCmd.AddCommand(pruneCmd)

	var force bool
	keygenCmd := &cobra.Command{
		Use:   "keygen <path>",
		Short: "Write a new master key for sealing stored tokens",
		Long: `keygen writes a random master key. Point BILLING_MASTER_KEY_PATH at it
to encrypt stored tokens. Sessions sealed with a previous key become
unreadable and must log in again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			key, err := cryptox.GenerateKey()
			if err != nil {
				return err
			}
			f, err := os.OpenFile(path, flags, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create key file: %w", err)
			}
			if _, err := f.WriteString(key + "\n"); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.message("Master key written to %s", path)
		},
	}
	keygenCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")

	c.root.AddCommand(debugCmd, profilesCmd, keygenCmd)
}

// gatherCounters flattens the session counters into name{labels} keys.
func gatherCounters(a *app.Application) (map[string]float64, error) {
	families, err := a.Registry().Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			name := f.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			out[name] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
