package sqlstore

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// dialect captures what differs between the supported SQL engines.
type dialect struct {
	driver string
	// numbered placeholders ($1, $2...) instead of ?
	numbered bool

	schema []string

	// upsertSession inserts a session row or bumps updated_ts.
	upsertSession string

	// contains returns a byte-wise substring predicate of column against one
	// bound argument. Case-insensitive search runs it on content_folded.
	contains func(column string) string
}

func dialectFor(name string) (*dialect, error) {
	switch name {
	case "sqlite":
		return sqliteDialect, nil
	case "postgres":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return nil, errors.Errorf("unsupported sql dialect %q", name)
}

// rebind rewrites ? placeholders for engines that number them.
func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqliteDialect = &dialect{
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_session (
			id         TEXT    PRIMARY KEY,
			user_id    TEXT    NOT NULL,
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id      TEXT    NOT NULL,
			id              TEXT    NOT NULL,
			conversation_id TEXT    NOT NULL DEFAULT '',
			role            TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			content_folded  TEXT    NOT NULL,
			token_count     INTEGER NOT NULL DEFAULT 0,
			created_ts      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_summary (
			id            TEXT    PRIMARY KEY,
			session_id    TEXT    NOT NULL,
			content       TEXT    NOT NULL,
			message_count INTEGER NOT NULL,
			model         TEXT    NOT NULL DEFAULT '',
			generated_ts  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session_user ON chat_session(user_id, updated_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_message_session ON chat_message(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_summary_session ON chat_summary(session_id, generated_ts)`,
	},
	upsertSession: `INSERT INTO chat_session (id, user_id, created_ts, updated_ts) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET updated_ts = excluded.updated_ts`,
	contains: func(column string) string {
		return "instr(" + column + ", ?) > 0"
	},
}

var postgresDialect = &dialect{
	driver:   "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_session (
			id         TEXT   PRIMARY KEY,
			user_id    TEXT   NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			seq             BIGSERIAL PRIMARY KEY,
			session_id      TEXT      NOT NULL,
			id              TEXT      NOT NULL,
			conversation_id TEXT      NOT NULL DEFAULT '',
			role            TEXT      NOT NULL,
			content         TEXT      NOT NULL,
			content_folded  TEXT      NOT NULL,
			token_count     INTEGER   NOT NULL DEFAULT 0,
			created_ts      BIGINT    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_summary (
			id            TEXT    PRIMARY KEY,
			session_id    TEXT    NOT NULL,
			content       TEXT    NOT NULL,
			message_count INTEGER NOT NULL,
			model         TEXT    NOT NULL DEFAULT '',
			generated_ts  BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session_user ON chat_session(user_id, updated_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_message_session ON chat_message(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_summary_session ON chat_summary(session_id, generated_ts)`,
	},
	upsertSession: `INSERT INTO chat_session (id, user_id, created_ts, updated_ts) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET updated_ts = EXCLUDED.updated_ts`,
	contains: func(column string) string {
		return "strpos(" + column + ", ?) > 0"
	},
}

var mysqlDialect = &dialect{
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_session (
			id         VARCHAR(191) NOT NULL PRIMARY KEY,
			user_id    VARCHAR(191) NOT NULL,
			created_ts BIGINT       NOT NULL,
			updated_ts BIGINT       NOT NULL,
			INDEX idx_chat_session_user (user_id, updated_ts)
		) DEFAULT CHARSET = utf8mb4`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			seq             BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			session_id      VARCHAR(191) NOT NULL,
			id              VARCHAR(191) NOT NULL,
			conversation_id VARCHAR(191) NOT NULL DEFAULT '',
			role            VARCHAR(32)  NOT NULL,
			content         TEXT         NOT NULL,
			content_folded  TEXT         NOT NULL,
			token_count     INT          NOT NULL DEFAULT 0,
			created_ts      BIGINT       NOT NULL,
			INDEX idx_chat_message_session (session_id, seq)
		) DEFAULT CHARSET = utf8mb4`,
		`CREATE TABLE IF NOT EXISTS chat_summary (
			id            VARCHAR(191) NOT NULL PRIMARY KEY,
			session_id    VARCHAR(191) NOT NULL,
			content       TEXT         NOT NULL,
			message_count INT          NOT NULL,
			model         VARCHAR(191) NOT NULL DEFAULT '',
			generated_ts  BIGINT       NOT NULL,
			INDEX idx_chat_summary_session (session_id, generated_ts)
		) DEFAULT CHARSET = utf8mb4`,
	},
	upsertSession: `INSERT INTO chat_session (id, user_id, created_ts, updated_ts) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_ts = VALUES(updated_ts)`,
	contains: func(column string) string {
		// BINARY keeps the utf8mb4 collation from folding case again
		return "LOCATE(BINARY ?, " + column + ") > 0"
	},
}
