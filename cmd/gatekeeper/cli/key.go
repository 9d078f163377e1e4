package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gatekeeperhq/gatekeeper/internal/keys"
	"github.com/gatekeeperhq/gatekeeper/internal/model"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys tenants use against the gateway.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// resolveTenant accepts either a tenant UUID or a tenant name.
func resolveTenant(ctx context.Context, st *store.Store, ref string) (*model.Tenant, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return st.GetTenant(ctx, id)
	}
	tenants, err := st.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tenants {
		if tenants[i].Name == ref {
			return &tenants[i], nil
		}
	}
	return nil, fmt.Errorf("tenant %q not found", ref)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		tenant     string
		rateLimit  int
		rateWindow int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a tenant. The raw key is shown once and cannot be retrieved again.",
		Example: `  gatekeeper key create --tenant acme --limit 100 --window 60
  gatekeeper key create --tenant 9f8e7d6c-5b4a-4918-a7e6-d5c4b3a29180`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(tenant, rateLimit, rateWindow)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant name or ID to bind the key to (required)")
	cmd.Flags().IntVar(&rateLimit, "limit", 10, "Requests allowed per window")
	cmd.Flags().IntVar(&rateWindow, "window", 60, "Window length in seconds")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyCreate(tenantRef string, rateLimit, rateWindow int) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	tenant, err := resolveTenant(ctx, st, tenantRef)
	if err != nil {
		return err
	}

	rawKey, err := keys.Generate()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	key, err := st.CreateAPIKey(ctx, tenant.ID, keys.Hash(rawKey), keys.Prefix(rawKey), rateLimit, rateWindow)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", rawKey)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Tenant: %s\n", tenant.Name)
	fmt.Printf("  Quota:  %d requests / %ds\n", key.RateLimit, key.RateWindow)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		tenant     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(tenant, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant name or ID (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyList(tenantRef string, jsonOutput bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	tenant, err := resolveTenant(ctx, st, tenantRef)
	if err != nil {
		return err
	}

	list, err := st.ListAPIKeys(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Printf("No API keys for tenant %q. Use 'gatekeeper key create' to create one.\n", tenant.Name)
		return nil
	}

	fmt.Printf("%-38s %-12s %-14s %-8s\n", "ID", "PREFIX", "QUOTA", "REVOKED")
	fmt.Printf("%-38s %-12s %-14s %-8s\n", "--", "------", "-----", "-------")
	for _, k := range list {
		revoked := "no"
		if k.Revoked() {
			revoked = "yes"
		}
		quota := fmt.Sprintf("%d/%ds", k.RateLimit, k.RateWindow)
		fmt.Printf("%-38s %-12s %-14s %-8s\n", k.ID, k.KeyPrefix, quota, revoked)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "revoke <key-id-or-prefix>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key by ID, or by prefix within a tenant. Revocation is permanent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(tenant, args[0])
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant name or ID (required when revoking by prefix)")

	return cmd
}

func runKeyRevoke(tenantRef, ref string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	keyID, err := uuid.Parse(ref)
	if err != nil {
		// Treat ref as a prefix; requires the tenant to scope the search.
		if tenantRef == "" {
			return fmt.Errorf("--tenant is required when revoking by prefix")
		}
		tenant, err := resolveTenant(ctx, st, tenantRef)
		if err != nil {
			return err
		}
		list, err := st.ListAPIKeys(ctx, tenant.ID)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		var matched *model.APIKey
		for _, k := range list {
			if strings.HasPrefix(k.KeyPrefix, ref) {
				if matched != nil {
					return fmt.Errorf("prefix %q matches more than one key", ref)
				}
				matched = k
			}
		}
		if matched == nil {
			return fmt.Errorf("no API key found with prefix %q", ref)
		}
		keyID = matched.ID
	}

	already, err := st.RevokeAPIKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if already {
		fmt.Printf("API key %s was already revoked\n", keyID)
	} else {
		fmt.Printf("Revoked API key %s\n", keyID)
	}
	return nil
}
