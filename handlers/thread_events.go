package handlers

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"forum-mirror/platform"
)

func (d *Deps) threadCreate(s *discordgo.Session, e *discordgo.ThreadCreate) {
	d.applyThread(s, e.Channel)
}

func (d *Deps) threadUpdate(s *discordgo.Session, e *discordgo.ThreadUpdate) {
	d.applyThread(s, e.Channel)
}

// applyThread runs thread-starter reconciliation for a live thread event,
// making sure the parent channel row exists first so the foreign key holds.
func (d *Deps) applyThread(s *discordgo.Session, ch *discordgo.Channel) {
	parent := forumParent(s, ch.ParentID)
	if parent == nil {
		return
	}

	ctx, cancel := d.ctx()
	defer cancel()

	if err := d.Rec.Channel(ctx, platform.MapForumChannel(parent)); err != nil {
		d.Log.Warn("live channel upsert failed", zap.String("channel_id", parent.ID), zap.Error(err))
		return
	}

	starterMsg, err := s.ChannelMessage(ch.ID, ch.ID)
	if err != nil {
		d.Log.Warn("live starter fetch failed", zap.String("thread_id", ch.ID), zap.Error(err))
		return
	}
	starter := platform.MapMessage(starterMsg)

	th := platform.MapThreadChannel(ch)
	th.Tags = resolveTagNames(parent, ch.AppliedTags)
	if _, err := d.Rec.Thread(ctx, th, &starter, nil); err != nil {
		d.Log.Warn("live thread apply failed", zap.Int64("thread_id", th.ID), zap.Error(err))
	}
}

func (d *Deps) threadDelete(s *discordgo.Session, e *discordgo.ThreadDelete) {
	if forumParent(s, e.ParentID) == nil {
		return
	}

	ctx, cancel := d.ctx()
	defer cancel()

	th := platform.MapThreadChannel(e.Channel)
	if err := d.Rec.DeleteThread(ctx, th.ID); err != nil {
		d.Log.Warn("live thread delete failed", zap.Int64("thread_id", th.ID), zap.Error(err))
		return
	}
	d.Log.Info("thread removed by live event", zap.Int64("thread_id", th.ID))
}

func resolveTagNames(parent *discordgo.Channel, applied []string) []string {
	if len(applied) == 0 {
		return nil
	}
	names := make(map[string]string, len(parent.AvailableTags))
	for _, t := range parent.AvailableTags {
		names[t.ID] = t.Name
	}
	out := make([]string, 0, len(applied))
	for _, id := range applied {
		if name, ok := names[id]; ok {
			out = append(out, name)
		} else {
			out = append(out, id)
		}
	}
	return out
}
