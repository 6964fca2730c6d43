package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, used by serve for telemetry
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygate",
		Short: "Issue, verify, and scope API keys",
		Long: `Keygate issues API keys for machine-to-machine clients, verifies them with
constant-time credential checks, and authorizes requests against per-key
resource scopes. One binary, SQLite by default, any SQL backend in production.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keygate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.keygate)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newResourceCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("keygate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.keygate")
	}

	viper.SetEnvPrefix("KEYGATE")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
