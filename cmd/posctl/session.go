package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthieugras/pos-client/internal/auth"
	"github.com/matthieugras/pos-client/internal/ui"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if username == "" {
				if username, err = promptValue("Username", false); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptValue("Password", true); err != nil {
					return err
				}
			}

			profile, err := a.session.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if profile == nil {
				fmt.Fprintln(out, ui.SuccessStyle.Render("Logged in."))
				return nil
			}
			fmt.Fprintln(out, ui.SuccessStyle.Render(fmt.Sprintf("Logged in as %s (%s).", profile.Username, profile.Role)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username (prompted if empty)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted if empty)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account and what its role can open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.session.Me(cmd.Context())
			if err != nil {
				return err
			}
			name := strings.TrimSpace(p.FirstName + " " + p.LastName)
			if name == "" {
				name = p.Username
			}
			rows := [][]string{
				{"User", p.Username},
				{"Name", name},
				{"Email", p.Email},
				{"Role", string(p.Role)},
			}
			if p.Role.Valid() {
				rows = append(rows,
					[]string{"Dashboard", p.Role.Dashboard()},
					[]string{"Sections", strings.Join(p.Role.Sections(), ", ")},
				)
			}
			if info, err := a.session.AccessToken(cmd.Context()); err == nil && !info.ExpiresAt.IsZero() {
				rows = append(rows, []string{"Token expires", info.ExpiresAt.Local().Format(time.RFC1123)})
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table([]string{"Field", "Value"}, rows))
			return nil
		},
	}
}

func newChangePasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "change-password",
		Short: "Change the password of the signed-in account",
		Long:  "Change the password of the signed-in account. The session ends afterwards; log in with the new password.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPassword, err := promptValue("Current password", true)
			if err != nil {
				return err
			}
			newPassword, err := promptValue("New password", true)
			if err != nil {
				return err
			}
			confirm, err := promptValue("Confirm new password", true)
			if err != nil {
				return err
			}
			if newPassword != confirm {
				return errors.New("new passwords do not match")
			}
			if err := a.session.ChangePassword(cmd.Context(), oldPassword, newPassword); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed. Log in again.")
			return nil
		},
	}
}

// promptValue asks on the terminal; without one there is nobody to ask
func promptValue(label string, secret bool) (string, error) {
	if !isTerminal() {
		return "", fmt.Errorf("%s is required (no terminal to prompt on)", strings.ToLower(label))
	}
	return ui.Prompt(label, secret)
}

// roleNames lists the accepted --role values
func roleNames() string {
	return strings.Join([]string{
		string(auth.RoleOwner), string(auth.RoleAdmin), string(auth.RoleWaiter), string(auth.RoleCashier),
	}, ", ")
}
