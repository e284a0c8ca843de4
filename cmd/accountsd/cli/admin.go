package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	accounts "github.com/goliatone/go-accounts"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrative accounts",
	}

	cmd.AddCommand(newAdminCreateCmd())

	return cmd
}

func newAdminCreateCmd() *cobra.Command {
	var msg accounts.CreateAccountMessage

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active administrative account",
		Example: `  accountsd admin create --username root --email root@example.com --password secret --role superadmin
  accountsd admin create --username ops --email ops@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if msg.Password == "" {
				password, err := promptPassword(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				msg.Password = password
			}

			v, err := loadViper()
			if err != nil {
				return err
			}

			rt, err := bootstrap(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.repo.Migrate(cmd.Context()); err != nil {
				return err
			}

			account, err := rt.service.Admin.Bootstrap(cmd.Context(), msg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", account.Role, account.Username, account.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&msg.Username, "username", "", "username (required)")
	cmd.Flags().StringVar(&msg.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&msg.Password, "password", "", "password (prompted if omitted)")
	cmd.Flags().StringVar(&msg.Role, "role", string(accounts.RoleSuperAdmin), "role: user, admin or superadmin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func promptPassword(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password is required when stdin is not a terminal")
	}

	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(out, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
