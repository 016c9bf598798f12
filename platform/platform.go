// Package platform is the boundary to the chat platform SDK. The traversal
// and reconciler consume only the Client interface and the internal records
// in models; swapping the SDK touches nothing outside this package.
package platform

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"forum-mirror/models"
)

// Client is the narrow fetch surface the traversal drives.
type Client interface {
	// GuildIDs returns the session's current guild cache.
	GuildIDs() []int64
	// ForumChannels lists the guild's forum-type channels.
	ForumChannels(ctx context.Context, guildID int64) ([]models.SourceChannel, error)
	// ActiveThreads lists the guild's active threads (all channels; callers
	// filter by parent).
	ActiveThreads(ctx context.Context, guildID int64) ([]models.SourceThread, error)
	// ArchivedThreads pages a channel's public archived threads, newest
	// first. The bool reports whether more pages remain.
	ArchivedThreads(ctx context.Context, channelID int64, before *time.Time, limit int) ([]models.SourceThread, bool, error)
	// Messages pages a thread's messages, newest first, before the given
	// message ID (zero means from the tip).
	Messages(ctx context.Context, threadID int64, limit int, beforeID int64) ([]models.SourceMessage, error)
	// StarterMessage fetches a thread's inline first message.
	StarterMessage(ctx context.Context, threadID int64) (*models.SourceMessage, error)
}

// ErrNotFound reports a 404 from the platform (deleted thread or message).
var ErrNotFound = errors.New("platform: not found")

// IsRateLimited reports a 429; traversal aborts the current channel on it.
func IsRateLimited(err error) bool {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil &&
		rest.Response.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports a 404 under either the sentinel or a raw REST error.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil &&
		rest.Response.StatusCode == http.StatusNotFound
}
