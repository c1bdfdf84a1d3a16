package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"collabroom/internal/app"
	"collabroom/internal/auth"
	"collabroom/internal/config"
	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	pkgdatabase "collabroom/pkg/database"
	"collabroom/pkg/types"
)

// Populated by ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "collabroom",
		Short:        "Real-time collaborative rooms: shared code, canvas and cursors",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a JSON or YAML config file (COLLABROOM_* env vars also apply)")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildMigrateCmd(&configPath),
		buildTokenCmd(&configPath),
	)
	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func buildServeCmd(configPath *string) *cobra.Command {
	var (
		port     int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
			slog.SetDefault(logger)

			application, err := app.NewApplication(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

func buildMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the activity journal schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cmd.ErrOrStderr()})
			journal, err := app.OpenJournal(cfg, logger, metrics.New(nil))
			if err != nil {
				return err
			}
			defer func() { _ = journal.Close() }()

			versions, err := pkgdatabase.NewMigrationManager(journal.GetDB()).AppliedVersions()
			if err != nil {
				return fmt.Errorf("failed to read migration state: %w", err)
			}
			if len(versions) == 0 {
				return fmt.Errorf("no migrations recorded in %s", cfg.Database.Path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal %s at schema version %s\n", cfg.Database.Path, versions[len(versions)-1])
			return nil
		},
	}
}

func buildTokenCmd(configPath *string) *cobra.Command {
	var (
		secret  string
		profile types.Profile
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token for development clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.Auth.Secret
			}

			verifier := auth.NewVerifier(secret, cfg.Auth.TokenExpiry, clock.WallClock)
			token, err := verifier.Issue(&profile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to the configured auth secret)")
	cmd.Flags().StringVar(&profile.ID, "id", "", "User id")
	cmd.Flags().StringVar(&profile.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&profile.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&profile.Picture, "picture", "", "Profile picture URL")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
