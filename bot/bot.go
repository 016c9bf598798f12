// Package bot owns the gateway session lifecycle: live handlers, the
// scheduled delta sync, and the optional historical sync at startup.
package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"forum-mirror/config"
	"forum-mirror/handlers"
	"forum-mirror/reconcile"
	"forum-mirror/scanner"
)

// Bot encapsulates the running mirror.
type Bot struct {
	Session *discordgo.Session

	cfg  *config.Config
	orch *scanner.Orchestrator
	live *reconcile.Reconciler
	log  *zap.Logger

	sched *scheduler
}

// NewSession builds the gateway session with the intents the mirror needs.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	return s, nil
}

func New(session *discordgo.Session, cfg *config.Config, orch *scanner.Orchestrator, live *reconcile.Reconciler, log *zap.Logger) *Bot {
	return &Bot{Session: session, cfg: cfg, orch: orch, live: live, log: log}
}

// Open connects the gateway and blocks until the session is ready, so the
// guild cache is populated before any traversal starts.
func (b *Bot) Open(ctx context.Context) error {
	ready := make(chan struct{}, 1)
	b.Session.AddHandlerOnce(func(s *discordgo.Session, r *discordgo.Ready) {
		ready <- struct{}{}
	})

	handlers.Register(b.Session, &handlers.Deps{Rec: b.live, Log: b.log})

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("opening gateway connection: %w", err)
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		b.Session.Close()
		return ctx.Err()
	}
}

// Run executes the configured mode. In once mode a single sync pass runs
// and Run returns its outcome; in watch mode the scheduler starts, the
// optional startup sync runs, and Run blocks until the context is
// canceled. When the startup sync is enabled together with ExitAfterSync,
// Run instead returns the outcome of that sync as soon as it finishes.
func (b *Bot) Run(ctx context.Context) error {
	opts := scanner.Options{ForceFull: b.cfg.ForceFullSync}

	if b.cfg.RunMode == "once" {
		_, err := b.orch.Run(ctx, opts)
		return err
	}

	b.sched = startScheduler(ctx, b.orch, b.log)
	defer b.sched.stop()

	if b.cfg.EnableHistoricalSync {
		if b.cfg.ExitAfterSync {
			_, err := b.orch.Run(ctx, opts)
			return err
		}
		go func() {
			if _, err := b.orch.Run(ctx, opts); err != nil {
				b.log.Error("startup sync failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	return nil
}

// Close shuts the gateway session down.
func (b *Bot) Close() {
	if b.Session != nil {
		b.Session.Close()
	}
	b.log.Info("bot stopped")
}
