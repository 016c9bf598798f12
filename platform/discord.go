package platform

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"forum-mirror/models"
)

// Discord adapts a discordgo session to the Client interface.
type Discord struct {
	session *discordgo.Session

	mu sync.Mutex
	// channel ID → tag ID → tag name, filled as forum channels are listed.
	tagNames map[int64]map[string]string
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session, tagNames: make(map[int64]map[string]string)}
}

func (d *Discord) GuildIDs() []int64 {
	var ids []int64
	for _, g := range d.session.State.Guilds {
		if id := parseID(g.ID); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Discord) ForumChannels(ctx context.Context, guildID int64) ([]models.SourceChannel, error) {
	channels, err := d.session.GuildChannels(formatID(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing channels for guild %d: %w", guildID, err)
	}

	var out []models.SourceChannel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildForum {
			continue
		}
		d.rememberTags(ch)
		created, _ := discordgo.SnowflakeTimestamp(ch.ID)
		out = append(out, models.SourceChannel{
			ID:          parseID(ch.ID),
			GuildID:     guildID,
			Name:        ch.Name,
			Description: ch.Topic,
			Position:    ch.Position,
			CreatedAt:   created.UTC(),
		})
	}
	return out, nil
}

func (d *Discord) ActiveThreads(ctx context.Context, guildID int64) ([]models.SourceThread, error) {
	list, err := d.session.GuildThreadsActive(formatID(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing active threads for guild %d: %w", guildID, err)
	}
	var out []models.SourceThread
	for _, th := range list.Threads {
		out = append(out, d.mapThread(th, guildID))
	}
	return out, nil
}

func (d *Discord) ArchivedThreads(ctx context.Context, channelID int64, before *time.Time, limit int) ([]models.SourceThread, bool, error) {
	list, err := d.session.ThreadsArchived(formatID(channelID), before, limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("listing archived threads for channel %d: %w", channelID, err)
	}
	var out []models.SourceThread
	for _, th := range list.Threads {
		out = append(out, d.mapThread(th, parseID(th.GuildID)))
	}
	return out, list.HasMore, nil
}

func (d *Discord) Messages(ctx context.Context, threadID int64, limit int, beforeID int64) ([]models.SourceMessage, error) {
	before := ""
	if beforeID != 0 {
		before = formatID(beforeID)
	}
	msgs, err := d.session.ChannelMessages(formatID(threadID), limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing messages for thread %d: %w", threadID, err)
	}
	out := make([]models.SourceMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MapMessage(m))
	}
	return out, nil
}

func (d *Discord) StarterMessage(ctx context.Context, threadID int64) (*models.SourceMessage, error) {
	// The starter message shares the thread's ID.
	id := formatID(threadID)
	m, err := d.session.ChannelMessage(id, id, discordgo.WithContext(ctx))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching starter for thread %d: %w", threadID, err)
	}
	msg := MapMessage(m)
	return &msg, nil
}

func (d *Discord) rememberTags(ch *discordgo.Channel) {
	if len(ch.AvailableTags) == 0 {
		return
	}
	names := make(map[string]string, len(ch.AvailableTags))
	for _, t := range ch.AvailableTags {
		names[t.ID] = t.Name
	}
	d.mu.Lock()
	d.tagNames[parseID(ch.ID)] = names
	d.mu.Unlock()
}

// mapThread converts a thread channel. Applied tag IDs resolve to names when
// the parent forum has been listed; otherwise the raw IDs are kept.
func (d *Discord) mapThread(th *discordgo.Channel, guildID int64) models.SourceThread {
	created, _ := discordgo.SnowflakeTimestamp(th.ID)
	out := models.SourceThread{
		ID:        parseID(th.ID),
		ChannelID: parseID(th.ParentID),
		GuildID:   guildID,
		Title:     th.Name,
		CreatedAt: created.UTC(),
	}
	if th.ThreadMetadata != nil && th.ThreadMetadata.Archived {
		out.ArchivedAt = th.ThreadMetadata.ArchiveTimestamp.UTC()
	}

	d.mu.Lock()
	names := d.tagNames[out.ChannelID]
	d.mu.Unlock()
	for _, tagID := range th.AppliedTags {
		if name, ok := names[tagID]; ok {
			out.Tags = append(out.Tags, name)
		} else {
			out.Tags = append(out.Tags, tagID)
		}
	}
	return out
}

// MapMessage converts an SDK message into the internal record. Live event
// handlers share this mapping with the traversal.
func MapMessage(m *discordgo.Message) models.SourceMessage {
	out := models.SourceMessage{
		ID:        parseID(m.ID),
		ThreadID:  parseID(m.ChannelID),
		Content:   m.Content,
		CreatedAt: m.Timestamp.UTC(),
	}
	if m.Author != nil {
		out.AuthorID = parseID(m.Author.ID)
		out.Bot = m.Author.Bot
	}
	if m.EditedTimestamp != nil {
		out.EditedAt = m.EditedTimestamp.UTC()
	}
	if m.MessageReference != nil {
		out.ReferenceID = parseID(m.MessageReference.MessageID)
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, models.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			Size:        int64(a.Size),
			ContentType: a.ContentType,
		})
	}
	return out
}

// MapForumChannel converts a forum channel outside the traversal (live
// events).
func MapForumChannel(ch *discordgo.Channel) models.SourceChannel {
	created, _ := discordgo.SnowflakeTimestamp(ch.ID)
	return models.SourceChannel{
		ID:          parseID(ch.ID),
		GuildID:     parseID(ch.GuildID),
		Name:        ch.Name,
		Description: ch.Topic,
		Position:    ch.Position,
		CreatedAt:   created.UTC(),
	}
}

// MapThreadChannel converts a thread channel outside the traversal (live
// events), without tag-name resolution state.
func MapThreadChannel(th *discordgo.Channel) models.SourceThread {
	created, _ := discordgo.SnowflakeTimestamp(th.ID)
	out := models.SourceThread{
		ID:        parseID(th.ID),
		ChannelID: parseID(th.ParentID),
		GuildID:   parseID(th.GuildID),
		Title:     th.Name,
		Tags:      append([]string(nil), th.AppliedTags...),
		CreatedAt: created.UTC(),
	}
	if th.ThreadMetadata != nil && th.ThreadMetadata.Archived {
		out.ArchivedAt = th.ThreadMetadata.ArchiveTimestamp.UTC()
	}
	return out
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
