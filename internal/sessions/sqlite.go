package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaybot/relay/pkg/models"
)

// SQLiteStore persists sessions, message history, and plans in a local
// sqlite database. Messages are stored as JSON payloads keyed by an
// append sequence so history order survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	key        TEXT NOT NULL UNIQUE,
	last_model TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS plans (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	status         TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	markdown       TEXT NOT NULL DEFAULT '',
	model_tier     TEXT NOT NULL DEFAULT '',
	predecessor_id TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id, status);
`

// NewSQLiteStore opens (creating if needed) a sqlite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent turns.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Key == "" {
		session.Key = models.SessionKey(session.Channel, session.ChatID)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt

	meta, err := json.Marshal(orEmptyMap(session.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel, chat_id, key, last_model, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, string(session.Channel), session.ChatID, session.Key,
		session.LastModel, string(meta), session.CreatedAt, session.UpdatedAt)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.scanSession(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	session.Messages, err = s.History(ctx, session.ID, 0)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	session, err := s.scanSession(ctx, `WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	session.Messages, err = s.History(ctx, session.ID, 0)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, channel models.ChannelType, chatID string) (*models.Session, error) {
	key := models.SessionKey(channel, chatID)
	session, err := s.GetByKey(ctx, key)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	session = &models.Session{
		Channel: channel,
		ChatID:  chatID,
		Key:     key,
	}
	if err := s.Create(ctx, session); err != nil {
		// Lost a create race; the row exists now.
		if existing, getErr := s.GetByKey(ctx, key); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	meta, err := json.Marshal(orEmptyMap(session.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_model = ?, metadata = ?, updated_at = ? WHERE id = ?
	`, session.LastModel, string(meta), time.Now(), session.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, channel, chat_id, key, last_model, metadata, created_at, updated_at FROM sessions`
	args := []any{}
	if opts.Channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, string(opts.Channel))
	}
	query += ` ORDER BY created_at`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = sessionID

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, payload)
		SELECT id, COALESCE((SELECT MAX(seq) FROM messages WHERE session_id = ?), 0) + 1, ?
		FROM sessions WHERE id = ?
	`, sessionID, string(payload), sessionID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt, sessionID)
	return err
}

func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT payload FROM messages WHERE session_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *SQLiteStore) ReplaceHistory(ctx context.Context, sessionID string, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, payload) VALUES (?, ?, ?)
		`, sessionID, i+1, string(payload)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePlan inserts or updates a plan row.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil {
		return errors.New("plan is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, session_id, status, title, markdown, model_tier, predecessor_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			title = excluded.title,
			markdown = excluded.markdown,
			model_tier = excluded.model_tier,
			updated_at = excluded.updated_at
	`, plan.ID, plan.SessionID, string(plan.Status), plan.Title, plan.Markdown,
		plan.ModelTier, plan.PredecessorID, plan.CreatedAt, plan.UpdatedAt)
	return err
}

// PlansBySession returns every plan recorded for a session, oldest first.
func (s *SQLiteStore) PlansBySession(ctx context.Context, sessionID string) ([]*models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, status, title, markdown, model_tier, predecessor_id, created_at, updated_at
		FROM plans WHERE session_id = ? ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Plan
	for rows.Next() {
		var plan models.Plan
		var status string
		if err := rows.Scan(&plan.ID, &plan.SessionID, &status, &plan.Title, &plan.Markdown,
			&plan.ModelTier, &plan.PredecessorID, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, err
		}
		plan.Status = models.PlanStatus(status)
		out = append(out, &plan)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSession(ctx context.Context, where string, arg any) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel, chat_id, key, last_model, metadata, created_at, updated_at
		FROM sessions `+where, arg)
	return scanSessionRow(row)
}

func scanSessionRow(row rowScanner) (*models.Session, error) {
	var session models.Session
	var channel, meta string
	err := row.Scan(&session.ID, &channel, &session.ChatID, &session.Key,
		&session.LastModel, &meta, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.Channel = models.ChannelType(channel)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &session, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
