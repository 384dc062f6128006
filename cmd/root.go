package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/vigil/internal/config"
	vlog "github.com/andresmejia3/vigil/internal/log"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options holds the configuration of the watch command
type Options struct {
	InputPath     string
	Device        int
	NthFrame      int
	NumEngines    int
	EARThreshold  float64
	DrowsyAfter   string
	SleepAfter    string
	OnFaceLost    string
	FaceLostGrace int
	WorkerTimeout string
	Upsample      int
	HTTPAddr      string
	Display       bool
	DebugFrames   string
	Subject       string
	NoStore       bool
}

// needsDB marks commands that open the database in PersistentPreRunE.
const needsDB = "needsDB"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is the environment configuration
	Cfg *config.Config
	// Logger is the structured logger shared by subcommands
	Logger *zap.Logger

	dbURL     string
	logLevel  string
	logFormat string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "vigil",
	Short:   "Eye-state drowsiness monitor",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// Flags win over the environment
		if logLevel != "" {
			Cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			Cfg.Log.Format = logFormat
		}
		Logger, err = vlog.New(Cfg.Log.Level, Cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		if !wantsDB(cmd) {
			return nil
		}
		if dbURL == "" {
			dbURL = Cfg.Database.URL()
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if Logger != nil {
			_ = Logger.Sync()
		}
	},
}

// wantsDB reports whether cmd is annotated as needing the database and was
// not asked to run without it.
func wantsDB(cmd *cobra.Command) bool {
	if cmd.Annotations[needsDB] != "true" {
		return false
	}
	if f := cmd.Flags().Lookup("no-store"); f != nil && f.Value.String() == "true" {
		return false
	}
	return true
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: from POSTGRES_* or postgres://localhost:5432/vigil)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default: LOG_FORMAT or console)")
}
