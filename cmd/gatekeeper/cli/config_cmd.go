package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage gateway configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default gatekeeper.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# Gatekeeper Configuration

server:
  host: 0.0.0.0
  port: 8080
  cors_origins:
    - "*"

# Relational store: tenants, API keys, operators, usage records.
store:
  driver: sqlite       # sqlite, postgres, or mysql
  dsn: ""              # full DSN for postgres/mysql
  data_dir: ""         # sqlite directory (default: ~/.gatekeeper)

# Counter and blocklist backend. memory is per-process; use redis to share
# rate limits and blocks across replicas.
backend:
  kind: memory         # memory or redis
  redis_addr: localhost:6379
  redis_db: 0

# Quotas not tied to an individual key.
limits:
  allow_anonymous: false
  anon_limit: 10
  anon_window_seconds: 60
  ip_limit: 120
  ip_window_seconds: 60
  fail_open: false     # allow traffic when a backend is unreachable
  blocked_status: 403  # 403, or 429 to avoid acknowledging blocks

# Automatic blocking of flooding IPs.
abuse:
  threshold: 10
  window_seconds: 60
  block_ttl_seconds: 600

# Operator sessions.
auth:
  jwt_secret: ""       # Set via GATEKEEPER_AUTH_JWT_SECRET env var
  token_ttl_hours: 12

log_level: info        # debug, info, warn, error
`

func runConfigInit(force bool) error {
	path := "gatekeeper.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file, then run 'gatekeeper serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'gatekeeper config init' to create a default configuration file.")
		return nil
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("render settings: %w", err)
	}
	os.Stdout.Write(out)
	return nil
}
