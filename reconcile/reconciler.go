// Package reconcile turns observed platform entities into normalized store
// writes. Every operation is an idempotent upsert of source state, which is
// what lets the sync task and the live handlers overlap safely.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"forum-mirror/database"
	"forum-mirror/identity"
	"forum-mirror/images"
	"forum-mirror/models"
	"forum-mirror/sanitize"
)

// Store is the slice of the gateway the reconciler drives.
type Store interface {
	UpsertChannel(ctx context.Context, ch models.Channel) error
	UpsertThread(ctx context.Context, th models.Thread) error
	UpsertPost(ctx context.Context, p models.Post) error
	SetPostReply(ctx context.Context, postID, replyToID int64, replyToAlias string) error
	CountPosts(ctx context.Context, threadID int64) (int, error)
	SetThreadReplyCount(ctx context.Context, threadID int64, n int) error
	FindPost(ctx context.Context, id int64) (*models.Post, error)
	FindThread(ctx context.Context, id int64) (*models.Thread, error)
	FindThreadBySlug(ctx context.Context, slug string) (*models.Thread, error)
	DeletePost(ctx context.Context, id int64) (bool, error)
	DeleteThread(ctx context.Context, id int64) (bool, error)
	GetStaffRole(ctx context.Context, hash string) (*models.StaffRole, error)
	EnqueueModeration(ctx context.Context, contentType string, contentID int64, reason string) error
}

// ImageProcessor is the media pipeline seam; nil disables images.
type ImageProcessor interface {
	Process(ctx context.Context, atts []models.Attachment, ts time.Time) []images.Processed
}

// Reconciler normalizes entities via the hasher, sanitizer and media
// pipeline, then persists them through the store.
type Reconciler struct {
	store  Store
	hasher *identity.Hasher
	images ImageProcessor
	log    *zap.Logger
}

func New(store Store, hasher *identity.Hasher, proc ImageProcessor, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, hasher: hasher, images: proc, log: log}
}

// Channel upserts a forum channel row.
func (r *Reconciler) Channel(ctx context.Context, ch models.SourceChannel) error {
	return r.store.UpsertChannel(ctx, models.Channel{
		ID:          ch.ID,
		Slug:        Slugify(ch.Name),
		Name:        ch.Name,
		Description: ch.Description,
		Position:    ch.Position,
		CreatedAt:   ch.CreatedAt,
	})
}

// Thread runs thread-starter reconciliation: normalize and upsert the
// thread row, reconcile its replies in chronological order, repair deferred
// references, and maintain the reply count. A nil or bot-authored starter
// skips the thread (bot filtering applies to starters the same as replies).
// Returns the number of posts reconciled.
func (r *Reconciler) Thread(ctx context.Context, th models.SourceThread, starter *models.SourceMessage, replies []models.SourceMessage) (int, error) {
	if starter == nil || starter.Bot {
		r.log.Debug("skipping thread without eligible starter", zap.Int64("thread_id", th.ID))
		return 0, nil
	}

	author, err := r.author(ctx, starter.AuthorID)
	if err != nil {
		return 0, err
	}
	body, res := r.renderBody(ctx, starter)

	row := models.Thread{
		ID:          th.ID,
		ChannelID:   th.ChannelID,
		Slug:        Slugify(th.Title),
		Title:       th.Title,
		AuthorAlias: author,
		BodyHTML:    body,
		Tags:        th.Tags,
		CreatedAt:   th.CreatedAt,
		UpdatedAt:   updatedAt(starter),
	}
	if err := r.upsertThreadRow(ctx, row); err != nil {
		return 0, err
	}
	r.flag(ctx, "thread", th.ID, res)

	// First pass, chronological ascending; remember the posts whose
	// referent was not in the store yet.
	sort.Slice(replies, func(i, j int) bool { return replies[i].CreatedAt.Before(replies[j].CreatedAt) })
	posts := 0
	var deferred []models.SourceMessage
	for _, m := range replies {
		if m.ID == starter.ID || m.Bot {
			continue
		}
		nulled, err := r.Post(ctx, th.ID, m)
		if err != nil {
			return posts, err
		}
		posts++
		if nulled {
			deferred = append(deferred, m)
		}
	}

	// Second pass over just the nulled subset: within-thread out-of-order
	// arrivals resolve now that every message is stored.
	for _, m := range deferred {
		if err := r.repairReference(ctx, m); err != nil {
			return posts, err
		}
	}

	return posts, r.RecountReplies(ctx, th.ID)
}

// Post runs post reconciliation for one reply. The returned bool reports
// that the message references a post not yet in the store, so both reply
// fields were written null pending repair.
func (r *Reconciler) Post(ctx context.Context, threadID int64, m models.SourceMessage) (bool, error) {
	author, err := r.author(ctx, m.AuthorID)
	if err != nil {
		return false, err
	}

	var replyToID int64
	var replyToAlias string
	nulled := false
	if m.ReferenceID != 0 {
		ref, err := r.store.FindPost(ctx, m.ReferenceID)
		switch {
		case err == nil:
			replyToID = ref.ID
			replyToAlias = ref.AuthorAlias
		case errors.Is(err, database.ErrNotFound):
			nulled = true
		default:
			return false, err
		}
	}

	body, res := r.renderBody(ctx, &m)
	post := models.Post{
		ID:                 m.ID,
		ThreadID:           threadID,
		AuthorAlias:        author,
		BodyHTML:           body,
		ReplyToID:          replyToID,
		ReplyToAuthorAlias: replyToAlias,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          updatedAt(&m),
	}
	if err := r.store.UpsertPost(ctx, post); err != nil {
		return false, err
	}
	r.flag(ctx, "post", m.ID, res)
	return nulled, nil
}

// repairReference re-checks one deferred referent and fills the reply
// fields if it has arrived since the first pass.
func (r *Reconciler) repairReference(ctx context.Context, m models.SourceMessage) error {
	stored, err := r.store.FindPost(ctx, m.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
	if stored.ReplyToID != 0 {
		return nil
	}
	ref, err := r.store.FindPost(ctx, m.ReferenceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Referent deleted upstream; the null fields stand.
			return nil
		}
		return err
	}
	return r.store.SetPostReply(ctx, m.ID, ref.ID, ref.AuthorAlias)
}

// RecountReplies re-derives reply_count from the posts table. The starter
// lives on the thread row, so the post count is the reply count.
func (r *Reconciler) RecountReplies(ctx context.Context, threadID int64) error {
	n, err := r.store.CountPosts(ctx, threadID)
	if err != nil {
		return err
	}
	return r.store.SetThreadReplyCount(ctx, threadID, n)
}

// EditMessage applies a live message edit: an existing post gets its body
// refreshed; a message whose ID matches a thread is a starter edit and
// updates the thread body.
func (r *Reconciler) EditMessage(ctx context.Context, m models.SourceMessage) error {
	if _, err := r.store.FindPost(ctx, m.ID); err == nil {
		_, err := r.Post(ctx, m.ThreadID, m)
		return err
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	th, err := r.store.FindThread(ctx, m.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
	body, res := r.renderBody(ctx, &m)
	th.BodyHTML = body
	th.UpdatedAt = updatedAt(&m)
	if err := r.upsertThreadRow(ctx, *th); err != nil {
		return err
	}
	r.flag(ctx, "thread", th.ID, res)
	return nil
}

// DeleteMessage removes a post and refreshes the thread's reply count when
// a row was actually deleted.
func (r *Reconciler) DeleteMessage(ctx context.Context, messageID, threadID int64) error {
	deleted, err := r.store.DeletePost(ctx, messageID)
	if err != nil {
		return err
	}
	if deleted && threadID != 0 {
		return r.RecountReplies(ctx, threadID)
	}
	return nil
}

// DeleteThread removes a thread row; posts cascade in the store.
func (r *Reconciler) DeleteThread(ctx context.Context, threadID int64) error {
	_, err := r.store.DeleteThread(ctx, threadID)
	return err
}

// upsertThreadRow handles the slug-collision retry: a duplicate slug from a
// different thread gets a stable hash suffix.
func (r *Reconciler) upsertThreadRow(ctx context.Context, row models.Thread) error {
	if existing, err := r.store.FindThreadBySlug(ctx, row.Slug); err == nil && existing.ID != row.ID {
		row.Slug = suffixedSlug(row.Slug, row.ID)
	} else if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	err := r.store.UpsertThread(ctx, row)
	if errors.Is(err, database.ErrDuplicateSlug) {
		row.Slug = suffixedSlug(row.Slug, row.ID)
		err = r.store.UpsertThread(ctx, row)
	}
	return err
}

// author formats the stored alias, appending a staff tag when one exists
// for the hashed identity.
func (r *Reconciler) author(ctx context.Context, userID int64) (string, error) {
	alias := r.hasher.Alias(userID)
	role, err := r.store.GetStaffRole(ctx, alias)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return alias, nil
		}
		return "", err
	}
	return identity.FormatAuthor(alias, role.PublicTag), nil
}

// renderBody sanitizes message content and appends processed images.
func (r *Reconciler) renderBody(ctx context.Context, m *models.SourceMessage) (string, sanitize.Result) {
	res := sanitize.Sanitize(m.Content)
	html := res.HTML

	if r.images != nil && len(m.Attachments) > 0 {
		var tags []string
		for _, p := range r.images.Process(ctx, m.Attachments, m.CreatedAt) {
			tags = append(tags, fmt.Sprintf(`<img src="%s" width="%d" height="%d">`, p.URL, p.Width, p.Height))
		}
		if len(tags) > 0 {
			if html != "" {
				html += "<br>"
			}
			html += strings.Join(tags, "<br>")
		}
	}
	return html, res
}

// flag feeds the moderation queue from sanitizer findings. Failures here
// never block the write that produced them.
func (r *Reconciler) flag(ctx context.Context, contentType string, id int64, res sanitize.Result) {
	var reasons []string
	if res.RedactedPII {
		reasons = append(reasons, "pii redacted")
	}
	if res.HadScript {
		reasons = append(reasons, "script stripped")
	}
	if len(reasons) == 0 {
		return
	}
	if err := r.store.EnqueueModeration(ctx, contentType, id, strings.Join(reasons, ", ")); err != nil {
		r.log.Warn("moderation enqueue failed",
			zap.String("content_type", contentType), zap.Int64("content_id", id), zap.Error(err))
	}
}

func updatedAt(m *models.SourceMessage) time.Time {
	if !m.EditedAt.IsZero() {
		return m.EditedAt
	}
	return m.CreatedAt
}
