// Package sqlstore implements domain.Store on SQLite, PostgreSQL and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/PabloGalante/chatsum/internal/domain"
)

type Store struct {
	db  *sql.DB
	d   *dialect
	now func() time.Time
}

// Open connects with the driver for dialectName ("sqlite", "postgres" or
// "mysql") and creates the tables when missing.
func Open(ctx context.Context, dialectName, dsn string) (*Store, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, errors.New("dsn is required for SQL store")
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, upstream(err, "failed to open "+dialectName+" database")
	}
	if d == sqliteDialect {
		// one writer at a time; sqlite would otherwise report SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, upstream(err, "failed to ping "+dialectName+" database")
	}

	s := &Store{db: db, d: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return upstream(err, "failed to migrate schema")
		}
	}
	return nil
}

// upstream marks a driver or connection failure as a storage outage.
// Domain errors never pass through here.
func upstream(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(fmt.Errorf("%w: %w", domain.ErrUpstream, err), msg)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return upstream(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return upstream(tx.Commit(), "failed to commit transaction")
}

func toTS(t time.Time) int64    { return t.UnixMicro() }
func fromTS(ts int64) time.Time { return time.UnixMicro(ts).UTC() }

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateOrAppend(
	ctx context.Context,
	id domain.SessionID,
	userID domain.UserID,
	msgs []domain.ChatMessage,
) (*domain.ChatSession, error) {
	if err := domain.ValidateAppend(id, msgs); err != nil {
		return nil, err
	}

	var sess *domain.ChatSession
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := toTS(s.now())

		// the upsert takes the row lock, serializing appends to one session
		if _, err := tx.ExecContext(ctx, s.d.rebind(s.d.upsertSession), string(id), string(userID), now, now); err != nil {
			return upstream(err, "failed to upsert session")
		}

		insert := s.d.rebind(`INSERT INTO chat_message
			(session_id, id, conversation_id, role, content, content_folded, token_count, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, m := range msgs {
			created := now
			if !m.CreatedAt.IsZero() {
				created = toTS(m.CreatedAt)
			}
			if _, err := tx.ExecContext(ctx, insert,
				string(id), string(m.ID), string(m.ConversationID), string(m.Role),
				m.Text, domain.Fold(m.Text), m.TokenCount, created,
			); err != nil {
				return upstream(err, "failed to insert message")
			}
		}

		var err error
		sess, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "sql CreateOrAppend")
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id domain.SessionID) (*domain.ChatSession, error) {
	sess, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, errors.Wrap(err, "sql Get")
	}
	return sess, nil
}

func (s *Store) load(ctx context.Context, q querier, id domain.SessionID) (*domain.ChatSession, error) {
	sess := &domain.ChatSession{ID: id}

	var userID string
	var created, updated int64
	err := q.QueryRowContext(ctx,
		s.d.rebind(`SELECT user_id, created_ts, updated_ts FROM chat_session WHERE id = ?`), string(id),
	).Scan(&userID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, upstream(err, "failed to read session")
	}
	sess.UserID = domain.UserID(userID)
	sess.CreatedAt = fromTS(created)
	sess.UpdatedAt = fromTS(updated)

	rows, err := q.QueryContext(ctx, s.d.rebind(`SELECT id, conversation_id, role, content, token_count, created_ts
		FROM chat_message WHERE session_id = ? ORDER BY seq ASC`), string(id))
	if err != nil {
		return nil, upstream(err, "failed to read messages")
	}
	defer rows.Close()

	sess.Messages = []domain.ChatMessage{}
	for rows.Next() {
		var (
			m                   domain.ChatMessage
			msgID, convID, role string
			tokenCount          int
			createdTS           int64
		)
		if err := rows.Scan(&msgID, &convID, &role, &m.Text, &tokenCount, &createdTS); err != nil {
			return nil, upstream(err, "failed to scan message")
		}
		m.ID = domain.MessageID(msgID)
		m.ConversationID = domain.ConversationID(convID)
		m.Role = domain.Role(role)
		m.TokenCount = tokenCount
		m.CreatedAt = fromTS(createdTS)
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, upstream(err, "failed to iterate messages")
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id domain.SessionID) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM chat_message WHERE session_id = ?`,
			`DELETE FROM chat_summary WHERE session_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.d.rebind(stmt), string(id)); err != nil {
				return upstream(err, "failed to delete session data")
			}
		}

		res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM chat_session WHERE id = ?`), string(id))
		if err != nil {
			return upstream(err, "failed to delete session")
		}
		removed, err = res.RowsAffected()
		return upstream(err, "failed to count deleted sessions")
	})
	if err != nil {
		return 0, errors.Wrap(err, "sql Delete")
	}
	return removed, nil
}

func (s *Store) Search(ctx context.Context, q domain.SearchQuery) ([]*domain.ChatSession, error) {
	if err := domain.ValidateSearch(q); err != nil {
		return nil, err
	}

	column, text := "m.content_folded", domain.Fold(q.Text)
	if q.CaseSensitive {
		column, text = "m.content", q.Text
	}
	where := []string{
		"EXISTS (SELECT 1 FROM chat_message m WHERE m.session_id = s.id AND " + s.d.contains(column) + ")",
	}
	args := []any{text}
	if q.UserID != "" {
		where, args = append(where, "s.user_id = ?"), append(args, string(q.UserID))
	}

	ids, err := s.sessionIDs(ctx, where, args, q.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "sql Search")
	}

	out := make([]*domain.ChatSession, 0, len(ids))
	for _, id := range ids {
		sess, err := s.load(ctx, s.db, id)
		if errors.Is(err, domain.ErrNotFound) {
			// deleted between the two queries
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "sql Search")
		}
		out = append(out, sess)
	}
	return out, nil
}

// ListByUser reads the listing projection in one query: counts and the
// first/last message come from correlated subqueries, not the full logs.
func (s *Store) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionInfo, error) {
	query := `SELECT s.id, s.created_ts, s.updated_ts,
			(SELECT COUNT(*) FROM chat_message m WHERE m.session_id = s.id),
			COALESCE((SELECT m.content FROM chat_message m WHERE m.session_id = s.id ORDER BY m.seq ASC LIMIT 1), ''),
			COALESCE((SELECT m.content FROM chat_message m WHERE m.session_id = s.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM chat_session s WHERE s.user_id = ? ORDER BY s.updated_ts DESC, s.id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), string(userID))
	if err != nil {
		return nil, upstream(err, "sql ListByUser")
	}
	defer rows.Close()

	out := []domain.SessionInfo{}
	for rows.Next() {
		var (
			id               string
			created, updated int64
			count            int
			first, last      string
		)
		if err := rows.Scan(&id, &created, &updated, &count, &first, &last); err != nil {
			return nil, upstream(err, "sql ListByUser scan")
		}
		out = append(out, domain.SessionInfo{
			ID:           domain.SessionID(id),
			UserID:       userID,
			MessageCount: count,
			FirstMessage: domain.Preview(first),
			LastMessage:  domain.Preview(last),
			CreatedAt:    fromTS(created),
			UpdatedAt:    fromTS(updated),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, upstream(err, "sql ListByUser")
	}
	return out, nil
}

// sessionIDs returns matching session ids, most recently updated first.
func (s *Store) sessionIDs(ctx context.Context, where []string, args []any, limit int) ([]domain.SessionID, error) {
	query := fmt.Sprintf(`SELECT s.id FROM chat_session s WHERE %s ORDER BY s.updated_ts DESC, s.id ASC`,
		strings.Join(where, " AND "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, upstream(err, "failed to query sessions")
	}
	defer rows.Close()

	var ids []domain.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, upstream(err, "failed to scan session id")
		}
		ids = append(ids, domain.SessionID(id))
	}
	return ids, upstream(rows.Err(), "failed to iterate sessions")
}

// ─────────────────────────────────────────
// SummaryStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendSummary(ctx context.Context, summary *domain.Summary) error {
	if summary == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO chat_summary
		(id, session_id, content, message_count, model, generated_ts) VALUES (?, ?, ?, ?, ?, ?)`),
		string(summary.ID), string(summary.SessionID), summary.Text, summary.MessageCount, summary.Model,
		toTS(summary.GeneratedAt),
	)
	return upstream(err, "sql AppendSummary")
}

func (s *Store) LatestSummary(ctx context.Context, sessionID domain.SessionID) (*domain.Summary, error) {
	list, err := s.ListSummaries(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListSummaries(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.Summary, error) {
	query := `SELECT id, content, message_count, model, generated_ts FROM chat_summary
		WHERE session_id = ? ORDER BY generated_ts DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), string(sessionID))
	if err != nil {
		return nil, upstream(err, "sql ListSummaries")
	}
	defer rows.Close()

	out := []*domain.Summary{}
	for rows.Next() {
		var (
			id          string
			generatedTS int64
		)
		sum := &domain.Summary{SessionID: sessionID}
		if err := rows.Scan(&id, &sum.Text, &sum.MessageCount, &sum.Model, &generatedTS); err != nil {
			return nil, upstream(err, "sql ListSummaries scan")
		}
		sum.ID = domain.SummaryID(id)
		sum.GeneratedAt = fromTS(generatedTS)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, upstream(err, "sql ListSummaries")
	}
	return out, nil
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}
