package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "API gateway with key auth, rate limiting, and abuse blocking",
		Long: `Gatekeeper sits in front of your API and decides, per request, whether to
let it through: blocked IPs are turned away, API keys are verified, and
per-key and per-IP rate limits are enforced. Every decision is recorded
for usage analytics, and IPs that flood the gateway with invalid keys or
rate-limit violations are blocked automatically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gatekeeper.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.gatekeeper)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newTenantCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newBlockCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gatekeeper")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.gatekeeper")
	}

	viper.SetEnvPrefix("GATEKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // config file is optional

	if dataDir != "" {
		viper.Set("store.data_dir", dataDir)
	}
}
