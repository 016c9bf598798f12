// Package handlers is the live-update path: platform push events applied
// through the same reconciler primitives as the sync task. Handlers are
// idempotent and never touch the sync cursor.
package handlers

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"forum-mirror/reconcile"
)

// Handler timeouts are generous; a single event never blocks the gateway
// dispatcher for long.
const eventTimeout = 2 * time.Minute

// Deps carries what the event handlers need.
type Deps struct {
	Rec *reconcile.Reconciler
	Log *zap.Logger
}

// Register attaches all live handlers to the session.
func Register(s *discordgo.Session, d *Deps) {
	s.AddHandler(d.messageCreate)
	s.AddHandler(d.messageUpdate)
	s.AddHandler(d.messageDelete)
	s.AddHandler(d.threadCreate)
	s.AddHandler(d.threadUpdate)
	s.AddHandler(d.threadDelete)

	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.Log.Info("gateway connected",
			zap.String("user", s.State.User.Username),
			zap.Int("guilds", len(r.Guilds)))
	})
}

func (d *Deps) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

// forumThread resolves a channel ID to a thread under a forum channel.
// Returns nil when the channel is not such a thread.
func forumThread(s *discordgo.Session, channelID string) *discordgo.Channel {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		if ch, err = s.Channel(channelID); err != nil {
			return nil
		}
	}
	if !ch.IsThread() {
		return nil
	}
	parent, err := s.State.Channel(ch.ParentID)
	if err != nil {
		if parent, err = s.Channel(ch.ParentID); err != nil {
			return nil
		}
	}
	if parent.Type != discordgo.ChannelTypeGuildForum {
		return nil
	}
	return ch
}

// forumParent resolves a forum channel by ID, or nil.
func forumParent(s *discordgo.Session, channelID string) *discordgo.Channel {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		if ch, err = s.Channel(channelID); err != nil {
			return nil
		}
	}
	if ch.Type != discordgo.ChannelTypeGuildForum {
		return nil
	}
	return ch
}
