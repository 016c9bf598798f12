// Package scanner drives the remote paginated API: the traversal engine
// walks guilds, forum channels, threads and message pages, and the
// orchestrator decides full-versus-delta and bookends the run with the
// cursor.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"forum-mirror/models"
	"forum-mirror/platform"
)

// ErrRateLimited aborts the current channel; the traversal moves on.
var ErrRateLimited = errors.New("rate limited")

const (
	// One page per 100 ms, the cooperative inter-page pacing.
	pagesPerSecond = 10
	pageSize       = 100
	maxFetchTries  = 3
)

// Traverser enumerates platform entities with rate-aware pagination. All
// methods are safe for concurrent use; the limiter is shared so the pacing
// bound holds across workers.
type Traverser struct {
	client platform.Client
	rl     ratelimit.Limiter
	log    *zap.Logger
}

func NewTraverser(client platform.Client, log *zap.Logger) *Traverser {
	return &Traverser{client: client, rl: ratelimit.New(pagesPerSecond), log: log}
}

// fetch runs one paced network call with retry on transient failures. Rate
// limits are permanent here so they surface to the per-channel abort.
func (t *Traverser) fetch(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.rl.Take()
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchTries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if platform.IsRateLimited(err) {
			return backoff.Permanent(ErrRateLimited)
		}
		if platform.IsNotFound(err) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// ForumChannels lists a guild's forum channels.
func (t *Traverser) ForumChannels(ctx context.Context, guildID int64) ([]models.SourceChannel, error) {
	var out []models.SourceChannel
	err := t.fetch(ctx, func() error {
		var err error
		out, err = t.client.ForumChannels(ctx, guildID)
		return err
	})
	return out, err
}

// ActiveThreads lists a guild's active threads. Active threads are always
// traversed, in delta mode too; their message pagination cuts off at the
// watermark instead.
func (t *Traverser) ActiveThreads(ctx context.Context, guildID int64) ([]models.SourceThread, error) {
	var out []models.SourceThread
	err := t.fetch(ctx, func() error {
		var err error
		out, err = t.client.ActiveThreads(ctx, guildID)
		return err
	})
	return out, err
}

// ArchivedThreads pages a channel's archived threads. In delta mode only
// threads created or archived after since are kept, and paging stops at the
// first page that is entirely at or below the watermark. On a rate limit
// the collected prefix is returned alongside ErrRateLimited.
func (t *Traverser) ArchivedThreads(ctx context.Context, channelID int64, since time.Time, delta bool) ([]models.SourceThread, error) {
	var out []models.SourceThread
	var before *time.Time

	for {
		var page []models.SourceThread
		var hasMore bool
		err := t.fetch(ctx, func() error {
			var err error
			page, hasMore, err = t.client.ArchivedThreads(ctx, channelID, before, pageSize)
			return err
		})
		if err != nil {
			return out, err
		}
		if len(page) == 0 {
			return out, nil
		}

		pastWatermark := true
		for _, th := range page {
			if !delta || th.CreatedAt.After(since) || th.ArchivedAt.After(since) {
				out = append(out, th)
			}
			if th.ArchivedAt.After(since) {
				pastWatermark = false
			}
			if !th.ArchivedAt.IsZero() {
				ts := th.ArchivedAt
				before = &ts
			}
		}
		if !hasMore || (delta && pastWatermark) {
			return out, nil
		}
	}
}

// ThreadMessages pages a thread's messages backwards 100 at a time until an
// empty page, or, in delta mode, until a fetched page's newest message is
// at or below the watermark. Messages are returned as fetched (newest
// first); the reconciler orders them.
func (t *Traverser) ThreadMessages(ctx context.Context, threadID int64, since time.Time, delta bool) ([]models.SourceMessage, error) {
	var out []models.SourceMessage
	var beforeID int64

	for {
		var page []models.SourceMessage
		err := t.fetch(ctx, func() error {
			var err error
			page, err = t.client.Messages(ctx, threadID, pageSize, beforeID)
			return err
		})
		if err != nil {
			return out, fmt.Errorf("paging thread %d: %w", threadID, err)
		}
		if len(page) == 0 {
			return out, nil
		}

		out = append(out, page...)
		beforeID = page[len(page)-1].ID
		if delta && !page[0].CreatedAt.After(since) {
			return out, nil
		}
	}
}

// StarterMessage fetches a thread's starter. A 404 maps to (nil, nil): the
// thread vanished upstream and is skipped, as the audit trail keeps
// whatever was mirrored before.
func (t *Traverser) StarterMessage(ctx context.Context, threadID int64) (*models.SourceMessage, error) {
	var out *models.SourceMessage
	err := t.fetch(ctx, func() error {
		var err error
		out, err = t.client.StarterMessage(ctx, threadID)
		return err
	})
	if platform.IsNotFound(err) {
		t.log.Debug("thread starter gone upstream", zap.Int64("thread_id", threadID))
		return nil, nil
	}
	return out, err
}

// UnionThreads merges active and archived listings by ID, last write wins.
// Order is archived-last so a thread seen both ways keeps its archived
// metadata.
func UnionThreads(active, archived []models.SourceThread) []models.SourceThread {
	seen := make(map[int64]int, len(active)+len(archived))
	var out []models.SourceThread
	for _, th := range active {
		seen[th.ID] = len(out)
		out = append(out, th)
	}
	for _, th := range archived {
		if i, ok := seen[th.ID]; ok {
			out[i] = th
			continue
		}
		seen[th.ID] = len(out)
		out = append(out, th)
	}
	return out
}
