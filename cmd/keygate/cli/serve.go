package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ubiwhere/keygate/internal/server"
	"github.com/ubiwhere/keygate/internal/store"
	"github.com/ubiwhere/keygate/internal/telemetry"
)

const banner = `
 _  _________   ______    _  _____ _____
| |/ / __\ \ \ / / ___|  / \|_   _| ____|
| ' /|  _| \ V / |  _   / _ \ | | |  _|
|_|\_\___|  |_|  \____|/_/ \_\|_| |_____|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that issues keys, answers gate decisions, and exposes the admin API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return runDaemonize()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(dev)
	ctx := context.Background()

	// 1. Open the backing store and run migrations.
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Driver())

	// 2. Key settings from flags, env, and config file.
	keys, err := keySettings()
	if err != nil {
		return fmt.Errorf("key settings: %w", err)
	}

	// 3. Server configuration.
	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	if viper.IsSet("server.rate_per_minute") {
		cfg.RatePerMinute = viper.GetInt("server.rate_per_minute")
	}
	if origins := viper.GetStringSlice("server.cors.origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if s := viper.GetString("server.shutdown_timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid server.shutdown_timeout %q: %w", s, err)
		}
		cfg.ShutdownTimeout = d
	}
	if s := viper.GetString("auth.jwt_expiry"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid auth.jwt_expiry %q: %w", s, err)
		}
		cfg.JWTExpiry = d
	}
	cfg.JWTSecret = viper.GetString("auth.jwt_secret")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "keygate-dev-secret-change-me"
		logger.Warn("auth.jwt_secret is not set, using an insecure development secret")
	}

	// 4. Check for first-run (no admin exists).
	hasAdmin, err := st.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: keygate admin create")
	}

	// 5. Anonymous telemetry (opt-out via settings or KEYGATE_TELEMETRY=0).
	tracker := telemetry.New(ctx, st, func() telemetry.Properties {
		return gatherTelemetry(st)
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	// 6. Build and start the HTTP server.
	srv, err := server.New(cfg, keys, st, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Store:    %s\n", st.Driver())
	fmt.Println()

	return srv.ListenAndServe()
}

// runDaemonize re-executes the serve command detached from the terminal,
// writing output to the log file in the data directory.
func runDaemonize() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server is already running (PID %d)", pid)
	}

	args := []string{"serve"}
	for _, a := range os.Args[2:] {
		if a == "--daemon" || a == "-d" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(os.Args[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	fmt.Printf("Server started in the background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: keygate stop")
	return nil
}

// newLogger builds the process logger from the logging config section.
func newLogger(dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch viper.GetString("logging.level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if viper.GetString("logging.format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// gatherTelemetry collects the aggregate counts reported each flush. Only
// counts leave the host; never key material, names, or emails.
func gatherTelemetry(st *store.Store) telemetry.Properties {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	props := telemetry.Properties{
		Version:     appVersion,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		StoreDriver: st.Driver(),
	}
	if keys, err := st.ListAPIKeys(ctx); err == nil {
		props.APIKeys = len(keys)
	}
	if types, err := st.ListResourceTypes(ctx); err == nil {
		props.ResourceTypes = len(types)
	}
	if admins, err := st.ListAdmins(ctx); err == nil {
		props.Admins = len(admins)
	}
	return props
}
