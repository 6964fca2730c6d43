package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ubiwhere/keygate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keygate configuration",
		Long:  "Initialize a default configuration file, display the effective configuration, or change stored runtime settings.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default keygate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

func runConfigInit(force bool) error {
	path := "keygate.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file to configure your store and key settings, then run 'keygate serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigShow() error {
	// Ensure config is loaded
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	// Print all settings
	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'keygate config init' to create a default configuration file.")
		return nil
	}

	for key, value := range settings {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}

// ---------- config set / get (stored runtime settings) ----------

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a stored runtime setting",
		Long:  "Set a runtime setting persisted in the store, such as telemetry.enabled.",
		Example: `  keygate config set telemetry.enabled false
  keygate config set telemetry.enabled true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func runConfigSet(key, value string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetSetting(context.Background(), key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a stored runtime setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func runConfigGet(key string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	value, err := st.GetSetting(context.Background(), key)
	if err != nil {
		return fmt.Errorf("setting %q is not set", key)
	}

	fmt.Println(value)
	return nil
}
