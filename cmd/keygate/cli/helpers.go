package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// KEYGATE_DATA_DIR env var, or ~/.keygate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.keygate"
}

// openStore opens the configured backend, defaulting to a SQLite file in the
// data directory when no store is configured.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := os.ExpandEnv(viper.GetString("store.dsn"))

	if (driver == "" || driver == "sqlite") && dsn == "" {
		return store.OpenDefault(resolveDataDir())
	}
	return store.Open(driver, dsn)
}

// keySettings builds the key-handling settings from viper.
func keySettings() (config.Keys, error) {
	return config.KeysFromViper(viper.GetViper())
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "keygate.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "keygate.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// parseKeyID parses a numeric key ID CLI argument.
func parseKeyID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid key id %q", arg)
	}
	return id, nil
}
