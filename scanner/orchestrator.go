package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forum-mirror/models"
	"forum-mirror/reconcile"
)

// Threads of one channel reconcile in parallel up to this bound; a single
// thread's message stream never crosses workers, which keeps the deferred-
// reference repair race-free.
const threadWorkers = 4

// SyncStore is the slice of the gateway the orchestrator needs directly.
type SyncStore interface {
	GetCursor(ctx context.Context) (models.SyncCursor, error)
	SetCursor(ctx context.Context, ts time.Time) error
	ThreadExists(ctx context.Context, id int64) (bool, error)
}

// Options scope one orchestrator run.
type Options struct {
	ForceFull    bool
	GuildID      int64
	ChannelID    int64
	ThreadID     int64
	Limit        int
	SkipExisting bool
}

// Orchestrator selects the sync mode, drives the traversal through the
// reconciler, and advances the cursor only on a clean return.
type Orchestrator struct {
	trav  *Traverser
	rec   *reconcile.Reconciler
	store SyncStore
	log   *zap.Logger
}

func NewOrchestrator(trav *Traverser, rec *reconcile.Reconciler, store SyncStore, log *zap.Logger) *Orchestrator {
	return &Orchestrator{trav: trav, rec: rec, store: store, log: log}
}

// Run executes one sync pass. Per-entity failures are counted and logged
// but do not abort the run; orchestrator-level failures propagate without
// touching the cursor, so the next run retries the same window.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (models.SyncStats, error) {
	var stats models.SyncStats

	cur, err := o.store.GetCursor(ctx)
	if err != nil {
		return stats, fmt.Errorf("reading sync cursor: %w", err)
	}

	delta := !opts.ForceFull && !cur.IsFirstRun
	since := cur.LastSync

	// Captured before traversal: events arriving mid-sync land inside the
	// next delta window instead of a gap.
	startTS := time.Now().UTC()

	mode := "full"
	if delta {
		mode = "delta"
	}
	o.log.Info("sync starting", zap.String("mode", mode), zap.Time("since", since))

	var errCount atomic.Int64
	limiter := newThreadLimiter(opts.Limit)

	for _, guildID := range o.guilds(opts) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Guilds++

		channels, err := o.trav.ForumChannels(ctx, guildID)
		if err != nil {
			o.log.Error("listing forums failed", zap.Int64("guild_id", guildID), zap.Error(err))
			errCount.Add(1)
			continue
		}
		active, err := o.trav.ActiveThreads(ctx, guildID)
		if err != nil {
			o.log.Error("listing active threads failed", zap.Int64("guild_id", guildID), zap.Error(err))
			errCount.Add(1)
			active = nil
		}
		activeByChannel := make(map[int64][]models.SourceThread)
		for _, th := range active {
			activeByChannel[th.ChannelID] = append(activeByChannel[th.ChannelID], th)
		}

		for _, ch := range channels {
			if opts.ChannelID != 0 && ch.ID != opts.ChannelID {
				continue
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			if err := o.rec.Channel(ctx, ch); err != nil {
				o.log.Error("channel upsert failed", zap.Int64("channel_id", ch.ID), zap.Error(err))
				errCount.Add(1)
				continue
			}
			stats.Channels++

			archived, err := o.trav.ArchivedThreads(ctx, ch.ID, since, delta)
			if err != nil {
				errCount.Add(1)
				if errors.Is(err, ErrRateLimited) {
					o.log.Warn("rate limited, aborting channel", zap.Int64("channel_id", ch.ID))
					continue
				}
				o.log.Error("listing archived threads failed", zap.Int64("channel_id", ch.ID), zap.Error(err))
				// Fall through with whatever prefix was collected.
			}

			threads := UnionThreads(activeByChannel[ch.ID], archived)
			done, posts, threadErrs := o.reconcileThreads(ctx, threads, opts, since, delta, limiter)
			stats.Threads += done
			stats.Posts += posts
			errCount.Add(int64(threadErrs))
			if limiter.exhausted() {
				break
			}
		}
		if limiter.exhausted() {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	stats.Errors = int(errCount.Load())
	if err := o.store.SetCursor(ctx, startTS); err != nil {
		return stats, fmt.Errorf("advancing sync cursor: %w", err)
	}

	o.log.Info("sync finished",
		zap.Int("guilds", stats.Guilds),
		zap.Int("channels", stats.Channels),
		zap.Int("threads", stats.Threads),
		zap.Int("posts", stats.Posts),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

// reconcileThreads fans the channel's threads across the bounded worker
// pool. Each worker owns its whole thread: starter fetch, message paging,
// reconciliation.
func (o *Orchestrator) reconcileThreads(ctx context.Context, threads []models.SourceThread, opts Options, since time.Time, delta bool, limiter *threadLimiter) (int, int, int) {
	var done, posts, errs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threadWorkers)

	for _, th := range threads {
		if opts.ThreadID != 0 && th.ID != opts.ThreadID {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		if !limiter.acquire() {
			break
		}
		th := th
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if opts.SkipExisting {
				exists, err := o.store.ThreadExists(gctx, th.ID)
				if err != nil {
					errs.Add(1)
					o.log.Warn("existence check failed", zap.Int64("thread_id", th.ID), zap.Error(err))
					return nil
				}
				if exists {
					return nil
				}
			}

			n, err := o.syncThread(gctx, th, since, delta)
			posts.Add(int64(n))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				errs.Add(1)
				if errors.Is(err, ErrRateLimited) {
					// Returning the error cancels gctx, which abandons the
					// channel's remaining threads.
					o.log.Warn("rate limited, aborting channel", zap.Int64("thread_id", th.ID))
					return err
				}
				o.log.Warn("thread sync failed", zap.Int64("thread_id", th.ID), zap.Error(err))
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(done.Load()), int(posts.Load()), int(errs.Load())
}

func (o *Orchestrator) syncThread(ctx context.Context, th models.SourceThread, since time.Time, delta bool) (int, error) {
	starter, err := o.trav.StarterMessage(ctx, th.ID)
	if err != nil {
		return 0, err
	}
	msgs, err := o.trav.ThreadMessages(ctx, th.ID, since, delta)
	if err != nil {
		return 0, err
	}
	return o.rec.Thread(ctx, th, starter, msgs)
}

func (o *Orchestrator) guilds(opts Options) []int64 {
	all := o.trav.client.GuildIDs()
	if opts.GuildID == 0 {
		return all
	}
	for _, id := range all {
		if id == opts.GuildID {
			return []int64{id}
		}
	}
	// A scoped guild outside the cache is still attempted; the REST calls
	// will answer authoritatively.
	return []int64{opts.GuildID}
}

// threadLimiter caps threads processed across the whole run.
type threadLimiter struct {
	mu    sync.Mutex
	left  int
	bound bool
}

func newThreadLimiter(limit int) *threadLimiter {
	return &threadLimiter{left: limit, bound: limit > 0}
}

func (l *threadLimiter) acquire() bool {
	if !l.bound {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.left == 0 {
		return false
	}
	l.left--
	return true
}

func (l *threadLimiter) exhausted() bool {
	if !l.bound {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.left == 0
}
