// Package cli wires the component graph and exposes the command surface.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forum-mirror/bot"
	"forum-mirror/config"
	"forum-mirror/database"
	"forum-mirror/identity"
	"forum-mirror/images"
	"forum-mirror/logging"
	"forum-mirror/platform"
	"forum-mirror/reconcile"
	"forum-mirror/scanner"
)

var rootCmd = &cobra.Command{
	Use:   "forum-mirror",
	Short: "Mirror forum channels into a relational store",
	Long: `forum-mirror keeps a durable, searchable copy of a chat platform's
forum conversations: channels, threads and posts, with identities hashed
and content sanitized. Without a subcommand it runs the live event loop
plus scheduled syncs.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "")
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.bot.Open(ctx); err != nil {
			return err
		}
		a.log.Info("mirror running, press ctrl-c to exit")
		return a.bot.Run(ctx)
	},
}

// Execute runs the CLI. Any failure exits nonzero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is the constructed component graph. Everything is built once at
// startup and treated as immutable afterwards.
type app struct {
	cfg  *config.Config
	log  *zap.Logger
	db   *sql.DB
	orch *scanner.Orchestrator
	bot  *bot.Bot
}

func newApp(ctx context.Context, tokenOverride string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if tokenOverride != "" {
		cfg.DiscordToken = tokenOverride
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	hasher, err := identity.NewHasher(cfg.PIIPepper)
	if err != nil {
		return nil, fmt.Errorf("invalid PII_PEPPER: %w", err)
	}

	db, err := database.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return nil, err
	}
	store := database.NewStore(db, log)

	if cfg.StaffCSVPath != "" {
		if _, err := identity.ImportStaffCSV(ctx, cfg.StaffCSVPath, hasher, store, log); err != nil {
			db.Close()
			return nil, err
		}
	}

	var proc reconcile.ImageProcessor
	if cfg.ImagesEnabled() {
		uploader, err := images.NewS3Uploader(ctx, cfg.S3Bucket, cfg.S3Region, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
		if err != nil {
			db.Close()
			return nil, err
		}
		proc = images.NewPipeline(uploader, cfg.ImageMaxMB, cfg.ImageMaxW, cfg.ImageMaxH, log)
	} else {
		log.Warn("object store not configured, attachments will be skipped")
	}

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		db.Close()
		return nil, err
	}
	client := platform.NewDiscord(session)

	recSync := reconcile.New(store, hasher, proc, log)
	recLive := reconcile.New(store.WithActor("live"), hasher, proc, log)

	trav := scanner.NewTraverser(client, log)
	orch := scanner.NewOrchestrator(trav, recSync, store, log)
	b := bot.New(session, cfg, orch, recLive, log)

	return &app{cfg: cfg, log: log, db: db, orch: orch, bot: b}, nil
}

func (a *app) close() {
	a.bot.Close()
	a.db.Close()
	a.log.Sync()
}
