package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
		Long:  "Create and list the tenants whose API keys the gateway admits.",
	}

	cmd.AddCommand(newTenantCreateCmd())
	cmd.AddCommand(newTenantListCmd())

	return cmd
}

// ---------- tenant create ----------

func newTenantCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create <name>",
		Short:   "Create a new tenant",
		Example: `  gatekeeper tenant create acme`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantCreate(args[0])
		},
	}
	return cmd
}

func runTenantCreate(name string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tenant, err := st.CreateTenant(context.Background(), name)
	if err != nil {
		return err
	}

	fmt.Printf("Created tenant %q\n", tenant.Name)
	fmt.Printf("  ID: %s\n", tenant.ID)
	return nil
}

// ---------- tenant list ----------

func newTenantListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runTenantList(jsonOutput bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tenants, err := st.ListTenants(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tenants)
	}

	if len(tenants) == 0 {
		fmt.Println("No tenants configured. Use 'gatekeeper tenant create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-24s %s\n", "ID", "NAME", "CREATED")
	fmt.Printf("%-38s %-24s %s\n", "--", "----", "-------")
	for _, t := range tenants {
		fmt.Printf("%-38s %-24s %s\n", t.ID, t.Name, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
