package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/BradenHooton/sentinel/internal/app"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "sentinelctl",
	Short: "Operator tooling for the Sentinel identity service",
	Long: `Run schema migrations and manage accounts and device bindings directly
against the Sentinel database. Configuration is read from the same
environment variables (and .env file) as the API server.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	memguard.Purge()
	if err != nil {
		os.Exit(1)
	}
}

// env is the per-invocation runtime opened by commands that touch the
// database
type env struct {
	cfg    *config.Config
	db     *database.DB
	logger *slog.Logger
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	// Operator output goes to stdout; logs go to stderr
	logger := pkglogger.New(os.Stderr, cfg.Server.LogLevel)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db, logger: logger}, nil
}

func (e *env) Close() {
	e.db.Close()
}

// services builds the service layer. Emails go through the configured
// provider so operator actions notify the account holder.
func (e *env) services(ctx context.Context) (*app.Services, error) {
	sender, err := app.NewEmailSender(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	return app.Build(e.cfg, e.db, sender, e.logger)
}
