// Package database implements the relational gateway: typed upserts and
// queries over the mirror schema, the persisted sync cursor, and the
// append-only audit log. All SQL lives here.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// The pool is shared process-wide; ten connections, returned on every op.
const maxOpenConns = 10

// Open connects to MySQL, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	log.Info("database ready")
	return db, nil
}

// Migrate creates the schema when absent and seeds the cursor row.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id BIGINT NOT NULL PRIMARY KEY,
			slug VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			position INT NOT NULL DEFAULT 0,
			created_at DATETIME(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id BIGINT NOT NULL PRIMARY KEY,
			channel_id BIGINT NOT NULL,
			slug VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL,
			author_alias VARCHAR(32) NOT NULL,
			body_html MEDIUMTEXT,
			tags JSON,
			reply_count INT NOT NULL DEFAULT 0,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			UNIQUE KEY uq_threads_slug (slug),
			CONSTRAINT fk_threads_channel FOREIGN KEY (channel_id)
				REFERENCES channels (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id BIGINT NOT NULL PRIMARY KEY,
			thread_id BIGINT NOT NULL,
			author_alias VARCHAR(32) NOT NULL,
			body_html MEDIUMTEXT,
			reply_to_id BIGINT NULL,
			reply_to_author_alias VARCHAR(32) NULL,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			KEY idx_posts_thread (thread_id),
			CONSTRAINT fk_posts_thread FOREIGN KEY (thread_id)
				REFERENCES threads (id) ON DELETE CASCADE,
			CONSTRAINT fk_posts_reply FOREIGN KEY (reply_to_id)
				REFERENCES posts (id) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS staff_roles (
			user_id_hash CHAR(12) NOT NULL PRIMARY KEY,
			public_tag VARCHAR(64) NOT NULL,
			added_by VARCHAR(64) NOT NULL,
			added_at DATETIME(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			actor VARCHAR(32) NOT NULL,
			action ENUM('INSERT','UPDATE','DELETE') NOT NULL,
			table_name VARCHAR(32) NOT NULL,
			old_val JSON NULL,
			new_val JSON NULL,
			ts DATETIME(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key_name VARCHAR(32) NOT NULL PRIMARY KEY,
			value VARCHAR(255) NOT NULL,
			updated_at DATETIME(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS moderation_queue (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			content_type ENUM('thread','post') NOT NULL,
			content_id BIGINT NOT NULL,
			status ENUM('pending','approved','rejected') NOT NULL DEFAULT 'pending',
			reason VARCHAR(255),
			flagged_at DATETIME(3) NOT NULL,
			reviewed_at DATETIME(3) NULL,
			reviewed_by VARCHAR(64) NULL
		)`,
		`INSERT IGNORE INTO config (key_name, value, updated_at)
			VALUES ('sync_state', '{"last_sync":"1970-01-01T00:00:00.000Z","is_first_run":1}', NOW(3))`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}
