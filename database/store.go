package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"forum-mirror/models"
)

var (
	// ErrNotFound is returned by lookups that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSlug is returned when a thread insert collides with an
	// existing slug on a different thread.
	ErrDuplicateSlug = errors.New("duplicate slug")
)

// Store is the typed gateway over the mirror schema. The actor tags every
// audit row; the sync orchestrator and the live handlers use distinct
// actors over the same pool.
type Store struct {
	db    *sql.DB
	log   *zap.Logger
	actor string
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log, actor: "sync"}
}

// WithActor returns a copy of the store writing audit rows as actor.
func (s *Store) WithActor(actor string) *Store {
	cp := *s
	cp.actor = actor
	return &cp
}

// UpsertChannel inserts the channel or updates name, description and
// position. Channels are never deleted by the mirror.
func (s *Store) UpsertChannel(ctx context.Context, ch models.Channel) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var old models.Channel
		err := tx.QueryRowContext(ctx,
			`SELECT id, slug, name, description, position, created_at FROM channels WHERE id = ?`, ch.ID).
			Scan(&old.ID, &old.Slug, &old.Name, &old.Description, &old.Position, &old.CreatedAt)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO channels (id, slug, name, description, position, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				ch.ID, ch.Slug, ch.Name, ch.Description, ch.Position, ch.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("inserting channel %d: %w", ch.ID, err)
			}
			return s.audit(ctx, tx, "INSERT", "channels", nil, ch)
		case err != nil:
			return fmt.Errorf("looking up channel %d: %w", ch.ID, err)
		}

		if old.Name == ch.Name && old.Description == ch.Description && old.Position == ch.Position && old.Slug == ch.Slug {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE channels SET slug = ?, name = ?, description = ?, position = ? WHERE id = ?`,
			ch.Slug, ch.Name, ch.Description, ch.Position, ch.ID); err != nil {
			return fmt.Errorf("updating channel %d: %w", ch.ID, err)
		}
		return s.audit(ctx, tx, "UPDATE", "channels", old, ch)
	})
}

// UpsertThread inserts the thread (seeding reply_count to zero in the same
// transaction) or updates its mutable columns. reply_count is never touched
// on the update path; SetThreadReplyCount owns it.
func (s *Store) UpsertThread(ctx context.Context, th models.Thread) error {
	tags, err := json.Marshal(th.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanThread(tx.QueryRowContext(ctx,
			`SELECT id, channel_id, slug, title, author_alias, body_html, tags, reply_count, created_at, updated_at
			 FROM threads WHERE id = ?`, th.ID))
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO threads (id, channel_id, slug, title, author_alias, body_html, tags, reply_count, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
				th.ID, th.ChannelID, th.Slug, th.Title, th.AuthorAlias, th.BodyHTML, tags,
				th.CreatedAt.UTC(), th.UpdatedAt.UTC()); err != nil {
				if isDuplicateKey(err) {
					return ErrDuplicateSlug
				}
				return fmt.Errorf("inserting thread %d: %w", th.ID, err)
			}
			return s.audit(ctx, tx, "INSERT", "threads", nil, th)
		case err != nil:
			return fmt.Errorf("looking up thread %d: %w", th.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET slug = ?, title = ?, author_alias = ?, body_html = ?, tags = ?, updated_at = ?
			 WHERE id = ?`,
			th.Slug, th.Title, th.AuthorAlias, th.BodyHTML, tags, th.UpdatedAt.UTC(), th.ID); err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateSlug
			}
			return fmt.Errorf("updating thread %d: %w", th.ID, err)
		}
		return s.audit(ctx, tx, "UPDATE", "threads", old, th)
	})
}

// UpsertPost inserts or updates a post. created_at is immutable after
// creation.
func (s *Store) UpsertPost(ctx context.Context, p models.Post) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanPost(tx.QueryRowContext(ctx,
			`SELECT id, thread_id, author_alias, body_html, reply_to_id, reply_to_author_alias, created_at, updated_at
			 FROM posts WHERE id = ?`, p.ID))
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO posts (id, thread_id, author_alias, body_html, reply_to_id, reply_to_author_alias, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.ThreadID, p.AuthorAlias, p.BodyHTML, nullID(p.ReplyToID), nullStr(p.ReplyToAuthorAlias),
				p.CreatedAt.UTC(), p.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("inserting post %d: %w", p.ID, err)
			}
			return s.audit(ctx, tx, "INSERT", "posts", nil, p)
		case err != nil:
			return fmt.Errorf("looking up post %d: %w", p.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET author_alias = ?, body_html = ?, reply_to_id = ?, reply_to_author_alias = ?, updated_at = ?
			 WHERE id = ?`,
			p.AuthorAlias, p.BodyHTML, nullID(p.ReplyToID), nullStr(p.ReplyToAuthorAlias),
			p.UpdatedAt.UTC(), p.ID); err != nil {
			return fmt.Errorf("updating post %d: %w", p.ID, err)
		}
		return s.audit(ctx, tx, "UPDATE", "posts", old, p)
	})
}

// SetPostReply repairs the reply fields of an already-stored post.
func (s *Store) SetPostReply(ctx context.Context, postID, replyToID int64, replyToAlias string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanPost(tx.QueryRowContext(ctx,
			`SELECT id, thread_id, author_alias, body_html, reply_to_id, reply_to_author_alias, created_at, updated_at
			 FROM posts WHERE id = ?`, postID))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up post %d: %w", postID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET reply_to_id = ?, reply_to_author_alias = ? WHERE id = ?`,
			nullID(replyToID), nullStr(replyToAlias), postID); err != nil {
			return fmt.Errorf("repairing post %d: %w", postID, err)
		}
		updated := *old
		updated.ReplyToID = replyToID
		updated.ReplyToAuthorAlias = replyToAlias
		return s.audit(ctx, tx, "UPDATE", "posts", old, updated)
	})
}

func (s *Store) CountPosts(ctx context.Context, threadID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE thread_id = ?`, threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting posts for thread %d: %w", threadID, err)
	}
	return n, nil
}

func (s *Store) SetThreadReplyCount(ctx context.Context, threadID int64, n int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanThread(tx.QueryRowContext(ctx,
			`SELECT id, channel_id, slug, title, author_alias, body_html, tags, reply_count, created_at, updated_at
			 FROM threads WHERE id = ?`, threadID))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up thread %d: %w", threadID, err)
		}
		if old.ReplyCount == n {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET reply_count = ? WHERE id = ?`, n, threadID); err != nil {
			return fmt.Errorf("setting reply count for thread %d: %w", threadID, err)
		}
		updated := *old
		updated.ReplyCount = n
		return s.audit(ctx, tx, "UPDATE", "threads", old, updated)
	})
}

func (s *Store) FindPost(ctx context.Context, id int64) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, author_alias, body_html, reply_to_id, reply_to_author_alias, created_at, updated_at
		 FROM posts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding post %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) FindThread(ctx context.Context, id int64) (*models.Thread, error) {
	th, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, slug, title, author_alias, body_html, tags, reply_count, created_at, updated_at
		 FROM threads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding thread %d: %w", id, err)
	}
	return th, nil
}

func (s *Store) FindThreadBySlug(ctx context.Context, slug string) (*models.Thread, error) {
	th, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, slug, title, author_alias, body_html, tags, reply_count, created_at, updated_at
		 FROM threads WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding thread by slug %q: %w", slug, err)
	}
	return th, nil
}

func (s *Store) ThreadExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking thread %d: %w", id, err)
	}
	return true, nil
}

// DeletePost removes a post. Both reply fields of referring posts are
// cleared here rather than left to the foreign key, which would null
// reply_to_id but strand the denormalized reply_to_author_alias. Returns
// false when no row existed.
func (s *Store) DeletePost(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanPost(tx.QueryRowContext(ctx,
			`SELECT id, thread_id, author_alias, body_html, reply_to_id, reply_to_author_alias, created_at, updated_at
			 FROM posts WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("looking up post %d: %w", id, err)
		}

		referrers, err := s.referringPosts(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, ref := range referrers {
			if _, err := tx.ExecContext(ctx,
				`UPDATE posts SET reply_to_id = NULL, reply_to_author_alias = NULL WHERE id = ?`, ref.ID); err != nil {
				return fmt.Errorf("clearing reply fields of post %d: %w", ref.ID, err)
			}
			updated := ref
			updated.ReplyToID = 0
			updated.ReplyToAuthorAlias = ""
			if err := s.audit(ctx, tx, "UPDATE", "posts", ref, updated); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting post %d: %w", id, err)
		}
		deleted = true
		return s.audit(ctx, tx, "DELETE", "posts", old, nil)
	})
	return deleted, err
}

// referringPosts collects the posts whose reply fields point at id. Rows are
// drained before the caller mutates them.
func (s *Store) referringPosts(ctx context.Context, tx *sql.Tx, id int64) ([]models.Post, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, thread_id, author_alias, body_html, reply_to_id, reply_to_author_alias, created_at, updated_at
		 FROM posts WHERE reply_to_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("listing replies to post %d: %w", id, err)
	}
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reply to post %d: %w", id, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing replies to post %d: %w", id, err)
	}
	return out, nil
}

// DeleteThread removes a thread; posts cascade.
func (s *Store) DeleteThread(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanThread(tx.QueryRowContext(ctx,
			`SELECT id, channel_id, slug, title, author_alias, body_html, tags, reply_count, created_at, updated_at
			 FROM threads WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("looking up thread %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting thread %d: %w", id, err)
		}
		deleted = true
		return s.audit(ctx, tx, "DELETE", "threads", old, nil)
	})
	return deleted, err
}

func (s *Store) GetStaffRole(ctx context.Context, hash string) (*models.StaffRole, error) {
	var r models.StaffRole
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id_hash, public_tag, added_by, added_at FROM staff_roles WHERE user_id_hash = ?`, hash).
		Scan(&r.UserIDHash, &r.PublicTag, &r.AddedBy, &r.AddedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding staff role %s: %w", hash, err)
	}
	return &r, nil
}

func (s *Store) UpsertStaffRole(ctx context.Context, r models.StaffRole) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO staff_roles (user_id_hash, public_tag, added_by, added_at)
		 VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE public_tag = VALUES(public_tag), added_by = VALUES(added_by)`,
		r.UserIDHash, r.PublicTag, r.AddedBy, r.AddedAt.UTC()); err != nil {
		return fmt.Errorf("upserting staff role %s: %w", r.UserIDHash, err)
	}
	return nil
}

// EnqueueModeration flags sanitized content for review.
func (s *Store) EnqueueModeration(ctx context.Context, contentType string, contentID int64, reason string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO moderation_queue (content_type, content_id, status, reason, flagged_at)
		 VALUES (?, ?, 'pending', ?, NOW(3))`,
		contentType, contentID, reason); err != nil {
		return fmt.Errorf("enqueueing moderation for %s %d: %w", contentType, contentID, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) audit(ctx context.Context, tx *sql.Tx, action, table string, oldVal, newVal any) error {
	oldJSON, err := marshalNullable(oldVal)
	if err != nil {
		return err
	}
	newJSON, err := marshalNullable(newVal)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, table_name, old_val, new_val, ts)
		 VALUES (?, ?, ?, ?, ?, NOW(3))`,
		s.actor, action, table, oldJSON, newJSON); err != nil {
		return fmt.Errorf("writing audit row: %w", err)
	}
	return nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding audit value: %w", err)
	}
	return string(b), nil
}

func isDuplicateKey(err error) bool {
	var merr *mysql.MySQLError
	return errors.As(err, &merr) && merr.Number == 1062
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var th models.Thread
	var tags []byte
	if err := row.Scan(&th.ID, &th.ChannelID, &th.Slug, &th.Title, &th.AuthorAlias,
		&th.BodyHTML, &tags, &th.ReplyCount, &th.CreatedAt, &th.UpdatedAt); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &th.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	return &th, nil
}

func scanPost(row rowScanner) (*models.Post, error) {
	var p models.Post
	var replyTo sql.NullInt64
	var replyAlias sql.NullString
	if err := row.Scan(&p.ID, &p.ThreadID, &p.AuthorAlias, &p.BodyHTML,
		&replyTo, &replyAlias, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ReplyToID = replyTo.Int64
	p.ReplyToAuthorAlias = replyAlias.String
	return &p, nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
