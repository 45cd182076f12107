package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/db"
	"github.com/danielhkuo/converge/engine"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/router"
	"github.com/danielhkuo/converge/scheduler"
	"github.com/danielhkuo/converge/scoring"
	"github.com/danielhkuo/converge/store"
)

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Consensus rounds for group chats",
	Long: `converge runs chats through repeated proposing and rating rounds until
one proposition wins enough consecutive rounds to reach consensus.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one scheduler sweep and print the report",
	RunE:  runSweep,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create database tables",
	RunE:  runSchema,
}

func init() {
	cliparse.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, sweepCmd, schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default slog logger from config.
func setupLogging(cfg cliparse.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openDatabase connects, pings and creates the schema.
func openDatabase(cfg cliparse.Config) (*sql.DB, error) {
	dbConn, err := sql.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if cfg.DatabaseType == "sqlite" {
		// SQLite allows a single writer
		dbConn.SetMaxOpenConns(1)
	}

	if err := dbConn.Ping(); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if err := db.CreateSchema(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	slog.Debug("database schema ready", "type", cfg.DatabaseType)
	return dbConn, nil
}

func loadConfig(cmd *cobra.Command) (cliparse.Config, error) {
	cfg, err := cliparse.Load(cmd.Flags())
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func newSweeper(dbConn *sql.DB, cfg cliparse.Config) (*engine.Engine, *scheduler.Sweeper) {
	s := store.New(dbConn)
	eng := engine.New(s, scoring.NewBMJScorer(dbConn), engine.Options{AlignToMinute: cfg.AlignToMinute})
	sweeper := scheduler.New(s, eng, s, scheduler.Config{
		Workers:      cfg.SweepWorkers,
		SweepTimeout: cfg.SweepTimeout,
		ChatTimeout:  cfg.ChatTimeout,
	})
	return eng, sweeper
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}
	if cfg.CronSecret == "" && cfg.ServiceSecret == "" && cfg.SweepInterval == 0 {
		slog.Warn("no sweep credential and no sweep interval; phases will not advance on their own")
	}

	dbConn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	eng, sweeper := newSweeper(dbConn, cfg)
	mux := router.NewRouter(dbConn, cfg, eng, sweeper)

	server := http.Server{
		Handler:           middleware.CORS(mux),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SweepInterval > 0 {
		go func() {
			if err := sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("periodic sweep failed", "error", err)
			}
		}()
	}

	go func() {
		// Wait for Ctrl-C signal
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "port", cfg.Port, "database", cfg.DatabaseType, "version", router.Version)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
		return err
	}
	slog.Info("Server closed")
	return nil
}

// runSweep exits 0 even when chats failed; failures are in the report.
func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dbConn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	_, sweeper := newSweeper(dbConn, cfg)
	report := sweeper.Sweep(cmd.Context())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dbConn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
	return nil
}
