package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forum-mirror/models"
)

var mysqlDuplicateErr = mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'taken' for key 'uq_threads_slug'"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, zap.NewNop()), mock
}

var (
	threadCols = []string{"id", "channel_id", "slug", "title", "author_alias", "body_html", "tags", "reply_count", "created_at", "updated_at"}
	postCols   = []string{"id", "thread_id", "author_alias", "body_html", "reply_to_id", "reply_to_author_alias", "created_at", "updated_at"}
)

func TestUpsertChannelInsertsAndAudits(t *testing.T) {
	store, mock := newMockStore(t)
	ch := models.Channel{ID: 10, Slug: "general", Name: "General", Position: 1, CreatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, slug, name, description, position, created_at FROM channels")).
		WithArgs(ch.ID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channels")).
		WithArgs(ch.ID, ch.Slug, ch.Name, ch.Description, ch.Position, ch.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "INSERT", "channels", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertChannel(context.Background(), ch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChannelUnchangedSkipsWrite(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()
	ch := models.Channel{ID: 10, Slug: "general", Name: "General", Description: "d", Position: 1, CreatedAt: created}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, slug, name, description, position, created_at FROM channels")).
		WithArgs(ch.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "description", "position", "created_at"}).
			AddRow(ch.ID, ch.Slug, ch.Name, ch.Description, ch.Position, created))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertChannel(context.Background(), ch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertThreadDuplicateSlug(t *testing.T) {
	store, mock := newMockStore(t)
	th := models.Thread{ID: 100, ChannelID: 10, Slug: "taken", Title: "Taken", AuthorAlias: "abcdefabcdef",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM threads WHERE id = ?")).
		WithArgs(th.ID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO threads")).
		WillReturnError(&mysqlDuplicateErr)
	mock.ExpectRollback()

	err := store.UpsertThread(context.Background(), th)
	assert.ErrorIs(t, err, ErrDuplicateSlug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPostUpdatePreservesCreatedAt(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := models.Post{ID: 101, ThreadID: 100, AuthorAlias: "abcdefabcdef", BodyHTML: "new body",
		CreatedAt: created, UpdatedAt: created.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE id = ?")).
		WithArgs(p.ID).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(p.ID, p.ThreadID, p.AuthorAlias, "old body", nil, nil, created, created))
	// created_at is absent from the update column list.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE posts SET author_alias = ?, body_html = ?, reply_to_id = ?, reply_to_author_alias = ?, updated_at = ?")).
		WithArgs(p.AuthorAlias, p.BodyHTML, nil, nil, p.UpdatedAt, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "UPDATE", "posts", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertPost(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePostMissingRowIsFalse(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE id = ?")).
		WithArgs(int64(999)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	deleted, err := store.DeletePost(context.Background(), 999)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePostAudits(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE id = ?")).
		WithArgs(int64(101)).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(101, 100, "abcdefabcdef", "body", nil, nil, created, created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE reply_to_id = ?")).
		WithArgs(int64(101)).
		WillReturnRows(sqlmock.NewRows(postCols))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM posts WHERE id = ?")).
		WithArgs(int64(101)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "DELETE", "posts", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	deleted, err := store.DeletePost(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePostClearsReferrerReplyFields(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE id = ?")).
		WithArgs(int64(101)).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(101, 100, "abcdefabcdef", "body", nil, nil, created, created))
	// Two later posts reply to 101; both reply fields must clear, not just
	// the one the foreign key would null.
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE reply_to_id = ?")).
		WithArgs(int64(101)).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(102, 100, "bbbbbbbbbbbb", "re one", 101, "abcdefabcdef", created, created).
			AddRow(103, 100, "cccccccccccc", "re two", 101, "abcdefabcdef", created, created))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE posts SET reply_to_id = NULL, reply_to_author_alias = NULL WHERE id = ?")).
		WithArgs(int64(102)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "UPDATE", "posts", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE posts SET reply_to_id = NULL, reply_to_author_alias = NULL WHERE id = ?")).
		WithArgs(int64(103)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "UPDATE", "posts", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM posts WHERE id = ?")).
		WithArgs(int64(101)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "DELETE", "posts", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	deleted, err := store.DeletePost(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetThreadReplyCountAudits(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM threads WHERE id = ?")).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(threadCols).
			AddRow(100, 10, "s", "T", "abcdefabcdef", "b", `["help"]`, 2, created, created))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE threads SET reply_count = ? WHERE id = ?")).
		WithArgs(3, int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("sync", "UPDATE", "threads", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SetThreadReplyCount(context.Background(), 100, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetThreadReplyCountUnchangedSkipsWrite(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM threads WHERE id = ?")).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(threadCols).
			AddRow(100, 10, "s", "T", "abcdefabcdef", "b", `["help"]`, 2, created, created))
	mock.ExpectCommit()

	require.NoError(t, store.SetThreadReplyCount(context.Background(), 100, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetThreadReplyCountMissingThread(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM threads WHERE id = ?")).
		WithArgs(int64(999)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.SetThreadReplyCount(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPostNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE id = ?")).
		WithArgs(int64(1)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindPost(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindThreadDecodesTags(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM threads WHERE id = ?")).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(threadCols).
			AddRow(100, 10, "s", "T", "abcdefabcdef", "b", `["help","golang"]`, 2, created, created))

	th, err := store.FindThread(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"help", "golang"}, th.Tags)
	assert.Equal(t, 2, th.ReplyCount)
}

func TestWithActorTagsAudit(t *testing.T) {
	store, mock := newMockStore(t)
	live := store.WithActor("live")
	ch := models.Channel{ID: 11, Slug: "s", Name: "n", CreatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM channels WHERE id = ?")).
		WithArgs(ch.ID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channels")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("live", "INSERT", "channels", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, live.UpsertChannel(context.Background(), ch))
	assert.NoError(t, mock.ExpectationsWereMet())
}
