package cli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
)

func newBlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Manage the IP blocklist",
		Long: `Add and remove IP blocklist entries directly in the shared backend.
Requires the redis backend; with the memory backend, blocks live inside
the server process and are managed through the admin API.`,
	}

	cmd.AddCommand(newBlockAddCmd())
	cmd.AddCommand(newBlockRemoveCmd())
	cmd.AddCommand(newBlockShowCmd())

	return cmd
}

// ---------- block add ----------

func newBlockAddCmd() *cobra.Command {
	var (
		ttlSeconds int
		reason     string
	)

	cmd := &cobra.Command{
		Use:     "add <ip>",
		Short:   "Block an IP address",
		Example: `  gatekeeper block add 203.0.113.9 --ttl 3600 --reason "scraping"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlockAdd(args[0], ttlSeconds, reason)
		},
	}

	cmd.Flags().IntVar(&ttlSeconds, "ttl", 600, "Block duration in seconds")
	cmd.Flags().StringVar(&reason, "reason", "", "Free-form reason for the block")

	return cmd
}

func runBlockAdd(ip string, ttlSeconds int, reason string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address: %q", ip)
	}
	if ttlSeconds <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	ctx := context.Background()
	blocks, err := openBlocklist(ctx, settings)
	if err != nil {
		return err
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if err := blocks.Block(ctx, ip, ttl, blocklist.ReasonManual, reason); err != nil {
		return err
	}
	fmt.Printf("Blocked %s for %s\n", ip, ttl)
	return nil
}

// ---------- block remove ----------

func newBlockRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <ip>",
		Aliases: []string{"rm"},
		Short:   "Remove a block",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlockRemove(args[0])
		},
	}
	return cmd
}

func runBlockRemove(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address: %q", ip)
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	ctx := context.Background()
	blocks, err := openBlocklist(ctx, settings)
	if err != nil {
		return err
	}

	if err := blocks.Unblock(ctx, ip); err != nil {
		return err
	}
	fmt.Printf("Unblocked %s\n", ip)
	return nil
}

// ---------- block show ----------

func newBlockShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <ip>",
		Short: "Show the block entry for an IP, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlockShow(args[0])
		},
	}
	return cmd
}

func runBlockShow(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address: %q", ip)
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	ctx := context.Background()
	blocks, err := openBlocklist(ctx, settings)
	if err != nil {
		return err
	}

	entry, err := blocks.Get(ctx, ip)
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Printf("%s is not blocked\n", ip)
		return nil
	}

	fmt.Printf("IP:      %s\n", entry.IP)
	fmt.Printf("Reason:  %s (%s)\n", entry.ReasonCode, entry.Reason)
	fmt.Printf("Since:   %s\n", entry.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Expires: %s\n", entry.ExpiresAt.Format(time.RFC3339))
	return nil
}
