package bot

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"forum-mirror/scanner"
)

type scheduler struct {
	c   *cron.Cron
	log *zap.Logger
}

// startScheduler runs an hourly delta sync while the event loop is up. The
// orchestrator itself decides full-versus-delta from the cursor, so a first
// run that never completed keeps retrying as full.
func startScheduler(ctx context.Context, orch *scanner.Orchestrator, log *zap.Logger) *scheduler {
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		log.Info("scheduled sync starting")
		if _, err := orch.Run(ctx, scanner.Options{}); err != nil {
			log.Error("scheduled sync failed", zap.Error(err))
		}
	})
	if err != nil {
		// The schedule string is a constant; this cannot fail at runtime.
		log.Fatal("could not schedule sync job", zap.Error(err))
	}
	c.Start()
	log.Info("hourly sync scheduled")
	return &scheduler{c: c, log: log}
}

func (s *scheduler) stop() {
	if s == nil || s.c == nil {
		return
	}
	s.c.Stop()
	s.log.Info("scheduler stopped")
}
