// crashvault is a crash-dump and debugging-artifact archive server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crashvault/crashvault/internal/blob"
	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/jobs"
	"github.com/crashvault/crashvault/internal/metrics"
	"github.com/crashvault/crashvault/internal/server"
	"github.com/crashvault/crashvault/internal/staging"
	"github.com/crashvault/crashvault/internal/svc"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile  string
	logLevel = "info"

	// Hidden flag set when invoked by the service manager.
	serviceRun bool
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

func main() {
	// Check if running as a service (invoked by service manager)
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "crashvault",
		Short: "CrashVault - crash-dump and debugging-artifact archive",
		Long: `CrashVault ingests crash dumps and debugging artifacts uploaded by
client machines, stores each distinct artifact exactly once keyed by
its content hash, and serves signed download links and per-incident
zip archives.

Examples:
  # Start the server
  crashvault serve --config /etc/crashvault/server.yaml

  # Install as a system service
  sudo crashvault service install --config /etc/crashvault/server.yaml`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CrashVault server",
		RunE:  runServeCmd,
	}
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crashvault %s\n", Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// nolint:revive // args required by cobra.Command RunE signature
func runServeCmd(cmd *cobra.Command, args []string) error {
	setupLogging()

	if cfgFile == "" {
		return fmt.Errorf("config file required (--config)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	return runServe(ctx, cfgFile)
}

// runServe wires the collaborators and serves until ctx is cancelled.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := staging.NewStore(filepath.Join(cfg.DataDir, "staging"))
	if err != nil {
		return err
	}

	cat, err := catalog.NewRedisCatalog(ctx, cfg.Catalog.Addr, cfg.Catalog.Password, cfg.Catalog.DB)
	if err != nil {
		return fmt.Errorf("connect catalog: %w", err)
	}
	defer cat.Close()

	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "memory":
		log.Warn().Msg("using in-memory blob store; artifacts will not survive a restart")
		blobs = blob.NewMemoryStore()
	default:
		blobs, err = blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  cfg.Blob.Endpoint,
			Region:    cfg.Blob.Region,
			Bucket:    cfg.Blob.Bucket,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			UseSSL:    cfg.Blob.UseSSL,
			PathStyle: cfg.Blob.PathStyle,
		})
		if err != nil {
			return fmt.Errorf("connect blob store: %w", err)
		}
	}

	m := metrics.New()
	launcher := jobs.NewLauncher(m)

	srv := server.NewServer(cfg, server.Deps{
		Catalog:  cat,
		Blobs:    blobs,
		Staging:  st,
		Launcher: launcher,
		Metrics:  m,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Str("version", Version).
			Str("staging", st.Root()).Msg("crashvault server started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	// Stop accepting requests, then let in-flight background commits
	// finish before exiting. A job killed mid-commit would orphan its
	// staged file until the next upload of the same hash.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := launcher.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("background jobs still running at exit; staged files retained")
	}
	launcher.Stop()

	log.Info().Msg("crashvault server stopped")
	return nil
}
