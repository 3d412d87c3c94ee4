package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/auth"
	"github.com/matthieugras/pos-client/internal/ui"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "Manage staff accounts (owner and admin only)",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				status := "active"
				if u.IsBlocked {
					status = "blocked"
				}
				rows = append(rows, []string{strconv.Itoa(u.ID), u.Username, u.FullName(), u.Role, u.Email, status})
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table([]string{"ID", "Username", "Name", "Role", "Email", "Status"}, rows))
			return nil
		},
	}

	var in api.UserInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Username == "" {
				return fmt.Errorf("--username is required")
			}
			if err := checkRole(in.Role); err != nil {
				return err
			}
			if in.Password == "" {
				var err error
				if in.Password, err = promptValue("Password", true); err != nil {
					return err
				}
			}
			created, err := a.client.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %d (%s).\n", created.ID, created.Username)
			return nil
		},
	}
	userFlags(add, &in)

	var upd api.UserInput
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Replace an account's details (password unchanged unless given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if upd.Username == "" {
				return fmt.Errorf("--username is required")
			}
			if err := checkRole(upd.Role); err != nil {
				return err
			}
			if _, err := a.client.UpdateUser(cmd.Context(), id, upd); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated user %d.\n", id)
			return nil
		},
	}
	userFlags(update, &upd)

	cmd.AddCommand(list, add, update, blockCmd(a, true), blockCmd(a, false))
	return cmd
}

func blockCmd(a *app, blocked bool) *cobra.Command {
	verb := "unblock"
	if blocked {
		verb = "block"
	}
	return &cobra.Command{
		Use:   verb + " ID",
		Short: fmt.Sprintf("%s an account", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.SetUserBlocked(cmd.Context(), id, blocked); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d %sed.\n", id, verb)
			return nil
		},
	}
}

func userFlags(cmd *cobra.Command, in *api.UserInput) {
	f := cmd.Flags()
	f.StringVar(&in.Username, "username", "", "Login name")
	f.StringVar(&in.FirstName, "first-name", "", "First name")
	f.StringVar(&in.LastName, "last-name", "", "Last name")
	f.StringVar(&in.Email, "email", "", "Email address")
	f.StringVar(&in.ContactNumber, "contact", "", "Contact number")
	f.StringVar(&in.Password, "password", "", "Password")
	f.StringVar(&in.Role, "role", string(auth.RoleWaiter), "Role: "+roleNames())
}

func checkRole(role string) error {
	if !auth.Role(role).Valid() {
		return fmt.Errorf("--role must be one of %s, got %q", roleNames(), role)
	}
	return nil
}
