package models

import "time"

// Channel is a mirrored forum container. Channels are never deleted by the
// mirror, even when they disappear upstream.
type Channel struct {
	ID          int64     `db:"id" json:"id"`
	Slug        string    `db:"slug" json:"slug"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Thread is a conversation under a channel. The starter message is stored
// inline on the thread row; replies are Post rows.
type Thread struct {
	ID          int64     `db:"id" json:"id"`
	ChannelID   int64     `db:"channel_id" json:"channel_id"`
	Slug        string    `db:"slug" json:"slug"`
	Title       string    `db:"title" json:"title"`
	AuthorAlias string    `db:"author_alias" json:"author_alias"`
	BodyHTML    string    `db:"body_html" json:"body_html"`
	Tags        []string  `db:"tags" json:"tags"`
	ReplyCount  int       `db:"reply_count" json:"reply_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Post is a reply within a thread. ReplyToID is zero when the post does not
// reply to another post, or when the referent is not (yet) in the store.
type Post struct {
	ID                 int64     `db:"id" json:"id"`
	ThreadID           int64     `db:"thread_id" json:"thread_id"`
	AuthorAlias        string    `db:"author_alias" json:"author_alias"`
	BodyHTML           string    `db:"body_html" json:"body_html"`
	ReplyToID          int64     `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ReplyToAuthorAlias string    `db:"reply_to_author_alias" json:"reply_to_author_alias,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// StaffRole is a public label attached to an identity hash.
type StaffRole struct {
	UserIDHash string    `db:"user_id_hash" json:"user_id_hash"`
	PublicTag  string    `db:"public_tag" json:"public_tag"`
	AddedBy    string    `db:"added_by" json:"added_by"`
	AddedAt    time.Time `db:"added_at" json:"added_at"`
}

// SyncCursor is the singleton sync state row.
type SyncCursor struct {
	LastSync   time.Time
	IsFirstRun bool
}

// Attachment is the internal record for a message attachment at the SDK
// seam. Downstream code never sees platform payloads.
type Attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// SourceChannel is a platform forum channel as observed by the traversal.
type SourceChannel struct {
	ID          int64
	GuildID     int64
	Name        string
	Description string
	Position    int
	CreatedAt   time.Time
}

// SourceThread is a platform thread as observed by the traversal. ArchivedAt
// is zero for active threads.
type SourceThread struct {
	ID         int64
	ChannelID  int64
	GuildID    int64
	Title      string
	Tags       []string
	CreatedAt  time.Time
	ArchivedAt time.Time
}

// SourceMessage is a platform message mapped to the internal shape: IDs
// parsed to int64, timestamps to time.Time. ReferenceID is zero when the
// message does not reply to another message.
type SourceMessage struct {
	ID          int64
	ThreadID    int64
	AuthorID    int64
	Bot         bool
	Content     string
	Attachments []Attachment
	ReferenceID int64
	CreatedAt   time.Time
	EditedAt    time.Time
}

// SyncStats aggregates one orchestrator run.
type SyncStats struct {
	Guilds   int
	Channels int
	Threads  int
	Posts    int
	Errors   int
}
