package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/billing/internal/portal/app"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

func (c *CLI) addAuthCommands() {
	var creds billingsdk.Credentials
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Example: `  billing login -u ada
  billing login -u ada --password-stdin < secret.txt`,
		Args: cobra.NoArgs,
	}
	var passwordStdin bool
	loginCmd.Flags().StringVarP(&creds.Username, "username", "u", "", "account username")
	loginCmd.Flags().StringVar(&creds.Password, "password", "", "account password (prompted when omitted)")
	loginCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	loginCmd.RunE = c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		if passwordStdin {
			secret, err := io.ReadAll(c.in)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			creds.Password = strings.TrimRight(string(secret), "\r\n")
		}
		if err := c.fill(cmd,
			field{flag: "username", title: "Username", value: &creds.Username},
			field{flag: "password", title: "Password", value: &creds.Password, secret: true},
		); err != nil {
			return err
		}

		snap, err := a.Session().Login(cmd.Context(), creds)
		if err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.value(a.Session().DebugInfo(cmd.Context()), func() {
			p.heading("Logged in as " + displayName(snap.User))
			p.fields(
				"Customer", snap.CustomerID,
				"Expires", snap.Expiry.Local().Format(time.RFC1123),
				"Profile", a.Config().Profile,
			)
		})
	})

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and notify the backend",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			a.Session().Logout(cmd.Context())
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.message("Logged out")
		}),
	}

	var reg billingsdk.RegisterRequest
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
	}
	registerCmd.Flags().StringVarP(&reg.Username, "username", "u", "", "username")
	registerCmd.Flags().StringVar(&reg.Email, "email", "", "email address")
	registerCmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	registerCmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	registerCmd.Flags().StringVar(&reg.Password, "password", "", "password (prompted when omitted)")
	registerCmd.Flags().StringVar(&reg.Phone, "phone", "", "phone number")
	registerCmd.RunE = c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		if err := c.fill(cmd,
			field{flag: "username", title: "Username", value: &reg.Username},
			field{flag: "email", title: "Email", value: &reg.Email},
			field{flag: "first-name", title: "First name", value: &reg.FirstName},
			field{flag: "last-name", title: "Last name", value: &reg.LastName},
			field{flag: "password", title: "Password", value: &reg.Password, secret: true},
		); err != nil {
			return err
		}

		user, err := a.Session().Register(cmd.Context(), reg)
		if err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.value(user, func() {
			p.heading("Registered " + displayName(user))
			if a.Session().IsLoggedIn(cmd.Context()) {
				p.fields("Status", "logged in")
			} else {
				p.fields("Status", "log in to continue")
			}
		})
	})

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
	}
	var remote bool
	whoamiCmd.Flags().BoolVar(&remote, "refresh", false, "fetch the user from the backend first")
	whoamiCmd.RunE = c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		s := a.Session()
		user := s.CurrentUser(cmd.Context())
		if remote {
			u, err := s.RefreshUserInfo(cmd.Context())
			if err != nil {
				return err
			}
			user = u
		}
		customerID, _ := s.CustomerID(cmd.Context())

		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.value(user, func() {
			p.heading(displayName(user))
			if user == nil {
				return
			}
			p.fields(
				"Username", user.Username,
				"Email", user.Email,
				"Roles", strings.Join(user.Roles, ", "),
				"Customer", customerID,
				"Phone", user.Phone,
				"Subscription", user.SubscriptionStatus,
			)
		})
	})

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a session is active",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			s := a.Session()
			loggedIn := s.IsLoggedIn(cmd.Context())
			snap := s.Snapshot()

			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			out := struct {
				LoggedIn   bool      `json:"loggedIn"`
				Profile    string    `json:"profile"`
				Expiry     time.Time `json:"expiry,omitzero"`
				Refresh    bool      `json:"refreshable"`
				CustomerID string    `json:"customerId,omitempty"`
			}{loggedIn, a.Config().Profile, snap.Expiry, snap.RefreshToken != "", snap.CustomerID}

			return p.value(out, func() {
				if !loggedIn {
					fmt.Fprintln(p.w, p.warn.Render("Not logged in"))
					p.fields("Profile", out.Profile)
					return
				}
				p.heading("Logged in")
				p.fields(
					"Profile", out.Profile,
					"Customer", out.CustomerID,
					"Expires", snap.Expiry.Local().Format(time.RFC1123),
					"Refreshable", yesNo(out.Refresh),
				)
			})
		}),
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it when needed",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			token, ok := a.Session().Token(cmd.Context())
			if !ok {
				return ErrLoginRequired
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}

	injectCmd := &cobra.Command{
		Use:   "inject-token [token]",
		Short: "Install a bearer token issued elsewhere",
		Long: `inject-token installs a JWT obtained outside the login flow. Its exp
claim sets the expiry (five minutes when absent). Injected sessions cannot
be refreshed. With no argument the token is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				raw, err := io.ReadAll(c.in)
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(raw))
			}
			if err := a.Session().SetExternalToken(cmd.Context(), token); err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.message("Token installed, expires %s", a.Session().Snapshot().Expiry.Local().Format(time.RFC1123))
		}),
	}

	var resetEmail string
	resetCmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
	}
	resetCmd.Flags().StringVar(&resetEmail, "email", "", "account email")
	resetCmd.RunE = c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		if err := c.fill(cmd, field{flag: "email", title: "Email", value: &resetEmail}); err != nil {
			return err
		}
		if err := a.Session().RequestPasswordReset(cmd.Context(), resetEmail); err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.message("If %s is registered, a reset link is on its way", resetEmail)
	})

	var currentPassword, newPassword string
	changeCmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the signed-in user's password",
		Args:  cobra.NoArgs,
	}
	changeCmd.Flags().StringVar(&currentPassword, "current", "", "current password")
	changeCmd.Flags().StringVar(&newPassword, "new", "", "new password")
	changeCmd.RunE = c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		if err := c.fill(cmd,
			field{flag: "current", title: "Current password", value: &currentPassword, secret: true},
			field{flag: "new", title: "New password", value: &newPassword, secret: true},
		); err != nil {
			return err
		}
		if err := a.Session().ChangePassword(cmd.Context(), currentPassword, newPassword); err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.message("Password changed")
	})

	var update billingsdk.ProfileUpdate
	profileCmd := &cobra.Command{
		Use:   "update-profile",
		Short: "Update name, email or phone",
		Args:  cobra.NoArgs,
	}
	profileCmd.Flags().StringVar(&update.FirstName, "first-name", "", "first name")
	profileCmd.Flags().StringVar(&update.LastName, "last-name", "", "last name")
	profileCmd.Flags().StringVar(&update.Email, "email", "", "email address")
	profileCmd.Flags().StringVar(&update.Phone, "phone", "", "phone number")
	profileCmd.RunE = c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		if update == (billingsdk.ProfileUpdate{}) {
			return fmt.Errorf("missing argument: nothing to update")
		}
		user, err := a.Session().UpdateProfile(cmd.Context(), update)
		if err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.value(user, func() {
			p.heading("Updated " + displayName(user))
			p.fields("Email", user.Email, "Phone", user.Phone)
		})
	})

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			up := a.Session().CheckServerAvailability(cmd.Context())
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			out := map[string]any{"available": up, "url": a.Config().APIURL}
			if err := p.value(out, func() {
				if up {
					fmt.Fprintln(p.w, p.ok.Render("Backend available"))
				} else {
					fmt.Fprintln(p.w, p.warn.Render("Backend unavailable"))
				}
				p.fields("URL", a.Config().APIURL)
			}); err != nil {
				return err
			}
			if !up {
				return &billingsdk.AuthError{Kind: billingsdk.KindUnreachable, Message: billingsdk.MsgUnreachable}
			}
			return nil
		}),
	}

	c.root.AddCommand(loginCmd, logoutCmd, registerCmd, whoamiCmd, statusCmd, tokenCmd,
		injectCmd, resetCmd, changeCmd, profileCmd, healthCmd)
}

func displayName(u *billingsdk.UserRecord) string {
	if u == nil {
		return billingsdk.PlaceholderName
	}
	return u.DisplayName()
}
