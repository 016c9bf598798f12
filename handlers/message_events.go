package handlers

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"forum-mirror/platform"
)

func (d *Deps) messageCreate(s *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Author != nil && (e.Author.Bot || e.Author.ID == s.State.User.ID) {
		return
	}
	// The starter shares the thread's ID; thread_create owns it.
	if e.ID == e.ChannelID {
		return
	}
	th := forumThread(s, e.ChannelID)
	if th == nil {
		return
	}

	ctx, cancel := d.ctx()
	defer cancel()

	m := platform.MapMessage(e.Message)
	if _, err := d.Rec.Post(ctx, m.ThreadID, m); err != nil {
		d.Log.Warn("live post apply failed", zap.Int64("message_id", m.ID), zap.Error(err))
		return
	}
	if err := d.Rec.RecountReplies(ctx, m.ThreadID); err != nil {
		d.Log.Warn("live recount failed", zap.Int64("thread_id", m.ThreadID), zap.Error(err))
	}
}

func (d *Deps) messageUpdate(s *discordgo.Session, e *discordgo.MessageUpdate) {
	if e.Author != nil && e.Author.Bot {
		return
	}
	if forumThread(s, e.ChannelID) == nil {
		return
	}

	ctx, cancel := d.ctx()
	defer cancel()

	if err := d.Rec.EditMessage(ctx, platform.MapMessage(e.Message)); err != nil {
		d.Log.Warn("live edit apply failed", zap.String("message_id", e.ID), zap.Error(err))
	}
}

func (d *Deps) messageDelete(s *discordgo.Session, e *discordgo.MessageDelete) {
	ctx, cancel := d.ctx()
	defer cancel()

	m := platform.MapMessage(e.Message)
	threadID := int64(0)
	if forumThread(s, e.ChannelID) != nil {
		threadID = m.ThreadID
	}
	if err := d.Rec.DeleteMessage(ctx, m.ID, threadID); err != nil {
		d.Log.Warn("live delete apply failed", zap.Int64("message_id", m.ID), zap.Error(err))
	}
}
