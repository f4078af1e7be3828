package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes multi-statement writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS models (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		max_tokens INTEGER NOT NULL DEFAULT 0,
		summary_model TEXT NOT NULL DEFAULT '',
		model_type TEXT NOT NULL DEFAULT 'chat',
		label TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rag_sources (
		name TEXT PRIMARY KEY,
		backend TEXT NOT NULL DEFAULT 'oracle',
		endpoint TEXT NOT NULL DEFAULT '',
		embedding_model TEXT NOT NULL DEFAULT '',
		embedding_endpoint TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		db_endpoint TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		rating INTEGER,
		rated_at INTEGER,
		created_at INTEGER NOT NULL,
		last_modified INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_modified);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER,
		documents_json TEXT,
		rating INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS summaries (
		session_id TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prompts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_user ON prompts(user_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const modelColumns = `name, kind, endpoint, api_key, max_tokens, summary_model, model_type, label, active, priority`

func scanModel(scan func(dest ...any) error) (*domain.ModelDescriptor, error) {
	var m domain.ModelDescriptor
	var kind string
	if err := scan(&m.Name, &kind, &m.Endpoint, &m.APIKey, &m.MaxTokens, &m.SummaryModel,
		&m.ModelType, &m.Label, &m.Active, &m.Priority); err != nil {
		return nil, err
	}
	m.Kind = domain.ProviderKind(kind)
	return &m, nil
}

// FindModel retrieves a model descriptor by name.
func (s *SQLiteStore) FindModel(ctx context.Context, name string) (*domain.ModelDescriptor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE name = ?`, name)
	m, err := scanModel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan model row: %w", err)
	}
	return m, nil
}

// ListModels returns models ordered by priority.
func (s *SQLiteStore) ListModels(ctx context.Context, activeOnly bool, modelType string) ([]*domain.ModelDescriptor, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE 1 = 1`
	var args []any
	if activeOnly {
		query += ` AND active = 1`
	}
	if modelType != "" {
		query += ` AND model_type = ?`
		args = append(args, modelType)
	}
	query += ` ORDER BY priority, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer closeRows(rows, "models")

	var out []*domain.ModelDescriptor
	for rows.Next() {
		m, err := scanModel(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return out, nil
}

// UpsertModel creates or replaces a model descriptor.
func (s *SQLiteStore) UpsertModel(ctx context.Context, m *domain.ModelDescriptor) error {
	query := `
	INSERT INTO models (` + modelColumns + `, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		kind = excluded.kind,
		endpoint = excluded.endpoint,
		api_key = excluded.api_key,
		max_tokens = excluded.max_tokens,
		summary_model = excluded.summary_model,
		model_type = excluded.model_type,
		label = excluded.label,
		active = excluded.active,
		priority = excluded.priority,
		updated_at = excluded.updated_at`

	modelType := m.ModelType
	if modelType == "" {
		modelType = "chat"
	}
	_, err := s.db.ExecContext(ctx, query,
		m.Name, string(m.Kind), m.Endpoint, m.APIKey, m.MaxTokens, m.SummaryModel,
		modelType, m.Label, m.Active, m.Priority, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

const ragColumns = `name, backend, endpoint, embedding_model, embedding_endpoint, api_key, db_endpoint, label, active, priority`

func scanRagSource(scan func(dest ...any) error) (*domain.RagSource, error) {
	var r domain.RagSource
	var backend string
	if err := scan(&r.Name, &backend, &r.Endpoint, &r.EmbeddingModel, &r.EmbeddingEndpoint,
		&r.APIKey, &r.DBEndpoint, &r.Label, &r.Active, &r.Priority); err != nil {
		return nil, err
	}
	r.Backend = domain.RetrievalBackend(backend)
	return &r, nil
}

// FindRagSource retrieves a RAG source by name.
func (s *SQLiteStore) FindRagSource(ctx context.Context, name string) (*domain.RagSource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ragColumns+` FROM rag_sources WHERE name = ?`, name)
	r, err := scanRagSource(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rag source row: %w", err)
	}
	return r, nil
}

// ListRagSources returns RAG sources ordered by priority.
func (s *SQLiteStore) ListRagSources(ctx context.Context, activeOnly bool) ([]*domain.RagSource, error) {
	query := `SELECT ` + ragColumns + ` FROM rag_sources`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY priority, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rag sources: %w", err)
	}
	defer closeRows(rows, "rag_sources")

	var out []*domain.RagSource
	for rows.Next() {
		r, err := scanRagSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rag source row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rag sources: %w", err)
	}
	return out, nil
}

// UpsertRagSource creates or replaces a RAG source descriptor.
func (s *SQLiteStore) UpsertRagSource(ctx context.Context, r *domain.RagSource) error {
	query := `
	INSERT INTO rag_sources (` + ragColumns + `, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		backend = excluded.backend,
		endpoint = excluded.endpoint,
		embedding_model = excluded.embedding_model,
		embedding_endpoint = excluded.embedding_endpoint,
		api_key = excluded.api_key,
		db_endpoint = excluded.db_endpoint,
		label = excluded.label,
		active = excluded.active,
		priority = excluded.priority,
		updated_at = excluded.updated_at`

	backend := r.Backend
	if backend == "" {
		backend = domain.RetrievalBackendOracle
	}
	_, err := s.db.ExecContext(ctx, query,
		r.Name, string(backend), r.Endpoint, r.EmbeddingModel, r.EmbeddingEndpoint,
		r.APIKey, r.DBEndpoint, r.Label, r.Active, r.Priority, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert rag source: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, user_id, title, rating, rated_at, created_at, last_modified`

func scanSession(scan func(dest ...any) error) (*domain.Session, error) {
	var sess domain.Session
	var rating, ratedAt sql.NullInt64
	var createdAt, lastModified int64
	if err := scan(&sess.ID, &sess.UserID, &sess.Title, &rating, &ratedAt, &createdAt, &lastModified); err != nil {
		return nil, err
	}
	if rating.Valid {
		sess.Rating = domain.IntPtr(int(rating.Int64))
	}
	if ratedAt.Valid {
		ts := time.UnixMilli(ratedAt.Int64)
		sess.RatedAt = &ts
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.LastModified = time.UnixMilli(lastModified)
	return &sess, nil
}

// FindSession retrieves a session and its messages in append order.
func (s *SQLiteStore) FindSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	msgs, err := s.sessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

func (s *SQLiteStore) sessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT message_id, role, content, token_count, documents_json, rating, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		var tokenCount, rating sql.NullInt64
		var documents sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &tokenCount, &documents, &rating, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.Timestamp = time.UnixMilli(createdAt)
		if tokenCount.Valid {
			m.TokenCount = domain.IntPtr(int(tokenCount.Int64))
		}
		if rating.Valid {
			m.Rating = domain.IntPtr(int(rating.Int64))
		}
		if documents.Valid && documents.String != "" {
			if err := json.Unmarshal([]byte(documents.String), &m.Documents); err != nil {
				return nil, fmt.Errorf("decode message documents: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// CreateSession creates an empty session; an existing session is left untouched.
func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID, userID, title string) error {
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO sessions (session_id, user_id, title, created_at, last_modified)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	err := shared.RetryOnConflict(ctx, "create_session", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, userID, title, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendMessages appends msgs and bumps last_modified in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs []domain.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := shared.RetryOnConflict(ctx, "append_messages", writeRetries, writeBaseDelay, func() error {
		return s.appendOnce(ctx, sessionID, msgs)
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("append messages to %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) appendOnce(ctx context.Context, sessionID string, msgs []domain.Message) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back append", "session_id", sessionID, "error", rbErr)
			}
		}
	}()

	result, err := tx.ExecContext(ctx, `UPDATE sessions SET last_modified = ? WHERE session_id = ?`,
		time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (message_id, session_id, role, content, token_count, documents_json, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		var tokenCount, rating, documents any
		if m.TokenCount != nil {
			tokenCount = *m.TokenCount
		}
		if m.Rating != nil {
			rating = *m.Rating
		}
		if len(m.Documents) > 0 {
			b, err := json.Marshal(m.Documents)
			if err != nil {
				return fmt.Errorf("encode message documents: %w", err)
			}
			documents = string(b)
		}
		if _, err := stmt.ExecContext(ctx, m.ID, sessionID, string(m.Role), m.Content,
			tokenCount, documents, rating, m.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListSessions returns a page of a user's sessions without messages.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.Session, int, error) {
	limit, offset = ClampPage(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?
		ORDER BY last_modified DESC, created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	sessions := []*domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, total, nil
}

// UpdateSessionTitle sets the title of a session owned by userID.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error {
	return s.execOwned(ctx, "update session title",
		`UPDATE sessions SET title = ? WHERE session_id = ? AND user_id = ?`, title, sessionID, userID)
}

// RateSession sets the rating of a session owned by userID.
func (s *SQLiteStore) RateSession(ctx context.Context, sessionID, userID string, rating int) error {
	return s.execOwned(ctx, "rate session",
		`UPDATE sessions SET rating = ?, rated_at = ? WHERE session_id = ? AND user_id = ?`,
		rating, time.Now().UnixMilli(), sessionID, userID)
}

// RateMessage sets the rating of a message in one of userID's sessions.
func (s *SQLiteStore) RateMessage(ctx context.Context, userID, messageID string, rating int) error {
	return s.execOwned(ctx, "rate message", `
		UPDATE messages SET rating = ?
		WHERE message_id = ? AND session_id IN (SELECT session_id FROM sessions WHERE user_id = ?)`,
		rating, messageID, userID)
}

// execOwned runs an update and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) execOwned(ctx context.Context, op, query string, args ...any) error {
	var rows int64
	err := shared.RetryOnConflict(ctx, op, writeRetries, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session owned by userID with its messages and summary.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// UpsertSummary creates or overwrites the session's summary.
func (s *SQLiteStore) UpsertSummary(ctx context.Context, sessionID, text string) error {
	query := `
	INSERT INTO summaries (session_id, summary, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		summary = excluded.summary,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, "upsert_summary", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, text, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetSummary returns the session's summary, or nil if none exists.
func (s *SQLiteStore) GetSummary(ctx context.Context, sessionID string) (*domain.Summary, error) {
	var sum domain.Summary
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT session_id, summary, updated_at FROM summaries WHERE session_id = ?`, sessionID).
		Scan(&sum.SessionID, &sum.Text, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan summary row: %w", err)
	}
	sum.UpdatedAt = time.UnixMilli(updatedAt)
	return &sum, nil
}

// SavePrompt appends p to userID's saved prompts.
func (s *SQLiteStore) SavePrompt(ctx context.Context, userID string, p domain.SavedPrompt) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `INSERT INTO prompts (user_id, title, text, created_at) VALUES (?, ?, ?, ?)`

	err := shared.RetryOnConflict(ctx, "save_prompt", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, userID, p.Title, p.Text, createdAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

// ListPrompts returns userID's saved prompts, newest first.
func (s *SQLiteStore) ListPrompts(ctx context.Context, userID string) ([]domain.SavedPrompt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, text, created_at FROM prompts WHERE user_id = ? ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer closeRows(rows, "prompts")

	prompts := []domain.SavedPrompt{}
	for rows.Next() {
		var p domain.SavedPrompt
		var createdAt int64
		if err := rows.Scan(&p.Title, &p.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdAt)
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return prompts, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "table", what, "error", err)
	}
}
