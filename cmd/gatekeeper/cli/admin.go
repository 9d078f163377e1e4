package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gatekeeperhq/gatekeeper/internal/service"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operator accounts",
		Long:  "Create and list the operator accounts that can log in to the admin API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new operator account",
		Example: `  gatekeeper admin create --email admin@example.com --password secret
  gatekeeper admin create --email admin@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Operator email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Operator password (prompted if omitted)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(email, password string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}

	if _, err := st.CreateAdmin(context.Background(), email, hash); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("operator %q already exists", email)
		}
		return err
	}

	fmt.Printf("Created operator account %q\n", email)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	admins, err := st.ListAdmins(context.Background())
	if err != nil {
		return err
	}

	type adminRow struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Created string `json:"created_at"`
	}
	rows := make([]adminRow, len(admins))
	for i, a := range admins {
		rows[i] = adminRow{
			ID:      a.ID.String(),
			Email:   a.Email,
			Created: a.CreatedAt.Format("2006-01-02 15:04"),
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No operator accounts. Use 'gatekeeper admin create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-30s %s\n", "ID", "EMAIL", "CREATED")
	fmt.Printf("%-38s %-30s %s\n", "--", "-----", "-------")
	for _, a := range rows {
		fmt.Printf("%-38s %-30s %s\n", a.ID, a.Email, a.Created)
	}
	return nil
}
