// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLService implements Service on a SQL database (sqlite, postgres, mysql).
// Concurrency is handled by database transactions.
type SQLService struct {
	db      *sql.DB
	dialect string
}

const createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    id VARCHAR(128) NOT NULL,
    state_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`

const createSessionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(app_name, user_id)`

const createAppStatesSchemaSQL = `
CREATE TABLE IF NOT EXISTS app_states (
    app_name VARCHAR(255) PRIMARY KEY,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createUserStatesSchemaSQL = `
CREATE TABLE IF NOT EXISTS user_states (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id)
)`

const createEventsSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_events (
    id VARCHAR(128) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(128) NOT NULL,
    invocation_id VARCHAR(255),
    author VARCHAR(255),
    content_json TEXT,
    state_delta_json TEXT,
    citations_json TEXT,
    error_message TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, id),
    UNIQUE (app_name, user_id, session_id, sequence_num)
)`

const createEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(app_name, user_id, session_id, sequence_num)`

// NewSQLService creates the schema if needed and returns a SQL-backed Service.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	case "sqlite3":
		dialect = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// One statement per Exec for SQLite.
	statements := []string{
		createSessionsSchemaSQL,
		createAppStatesSchemaSQL,
		createUserStatesSchemaSQL,
		createEventsSchemaSQL,
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; the primary keys cover lookups.
	if s.dialect != "mysql" {
		statements = append(statements, createSessionsIndexSQL, createEventsIndexSQL)
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLService) Close() error {
	return s.db.Close()
}

// Create creates a new session.
func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	appDelta, userDelta, sessionState := extractStateDeltas(req.State)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		req.AppName, req.UserID, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if exists > 0 {
		return nil, ErrSessionExists
	}

	if err := s.mergeScopedTx(ctx, tx, req.AppName, req.UserID, appDelta, userDelta); err != nil {
		return nil, err
	}

	stateJSON, err := json.Marshal(sessionState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO sessions (app_name, user_id, id, state_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		req.AppName, req.UserID, id, string(stateJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	appState, err := s.getScopedTx(ctx, tx, `SELECT state_json FROM app_states WHERE app_name = ?`, req.AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to get app state: %w", err)
	}
	userState, err := s.getScopedTx(ctx, tx, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, req.AppName, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Session{
		ID:             id,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          mergeStates(appState, userState, sessionState),
		Events:         []*Event{},
		LastUpdateTime: now,
	}, nil
}

// Get retrieves a session with merged state and its events.
func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*Session, error) {
	var (
		stateJSON sql.NullString
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT state_json, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		req.AppName, req.UserID, req.SessionID).Scan(&stateJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sessionState, err := decodeState(stateJSON.String)
	if err != nil {
		return nil, err
	}
	appState, err := s.getScopedTx(ctx, s.db, `SELECT state_json FROM app_states WHERE app_name = ?`, req.AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to get app state: %w", err)
	}
	userState, err := s.getScopedTx(ctx, s.db, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, req.AppName, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}

	events, err := s.getEvents(ctx, req.AppName, req.UserID, req.SessionID, req.NumRecentEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	return &Session{
		ID:             req.SessionID,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          mergeStates(appState, userState, sessionState),
		Events:         events,
		LastUpdateTime: updatedAt,
	}, nil
}

// List returns sessions of an app, optionally filtered by user.
func (s *SQLService) List(ctx context.Context, req *ListRequest) ([]*Session, error) {
	query := `SELECT user_id, id, state_json, updated_at FROM sessions WHERE app_name = ?`
	args := []any{req.AppName}
	if req.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, req.UserID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var (
			sess      = &Session{AppName: req.AppName}
			stateJSON sql.NullString
		)
		if err := rows.Scan(&sess.UserID, &sess.ID, &stateJSON, &sess.LastUpdateTime); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if sess.State, err = decodeState(stateJSON.String); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session and its events.
func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// AppendEvent persists event and its state delta in one transaction.
func (s *SQLService) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stateJSON sql.NullString
	// The row lock serializes appends to one session, so the sequence number
	// and the state merge below see every committed event.
	err = tx.QueryRowContext(ctx, s.q(`SELECT state_json FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`+s.forUpdate()),
		sess.AppName, sess.UserID, sess.ID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	appDelta, userDelta, sessionDelta := extractStateDeltas(event.StateDelta)
	if err := s.mergeScopedTx(ctx, tx, sess.AppName, sess.UserID, appDelta, userDelta); err != nil {
		return err
	}

	state, err := decodeState(stateJSON.String)
	if err != nil {
		return err
	}
	maps.Copy(state, sessionDelta)
	newStateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	var seq int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		sess.AppName, sess.UserID, sess.ID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	contentJSON, err := marshalOptional(event.Content)
	if err != nil {
		return err
	}
	deltaJSON, err := marshalOptional(event.StateDelta)
	if err != nil {
		return err
	}
	citationsJSON, err := marshalOptional(event.Citations)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO session_events
		(id, app_name, user_id, session_id, invocation_id, author, content_json, state_delta_json, citations_json, error_message, sequence_num, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, sess.AppName, sess.UserID, sess.ID, event.InvocationID, event.Author,
		contentJSON, deltaJSON, citationsJSON, event.ErrorMessage, seq, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`UPDATE sessions SET state_json = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`),
		string(newStateJSON), event.Timestamp, sess.AppName, sess.UserID, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	sess.Events = append(sess.Events, event)
	applyDelta(sess, event.StateDelta)
	sess.LastUpdateTime = event.Timestamp
	return nil
}

func (s *SQLService) getEvents(ctx context.Context, appName, userID, sessionID string, numRecent int) ([]*Event, error) {
	query := `SELECT id, invocation_id, author, content_json, state_delta_json, citations_json, error_message, created_at
		FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`
	args := []any{appName, userID, sessionID}
	if numRecent > 0 {
		query += " ORDER BY sequence_num DESC LIMIT ?"
		args = append(args, numRecent)
	} else {
		query += " ORDER BY sequence_num"
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			ev                                                  Event
			invocationID, author, content, delta, cites, errMsg sql.NullString
		)
		if err := rows.Scan(&ev.ID, &invocationID, &author, &content, &delta, &cites, &errMsg, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.InvocationID = invocationID.String
		ev.Author = author.String
		ev.ErrorMessage = errMsg.String
		if err := unmarshalOptional(content.String, &ev.Content); err != nil {
			return nil, err
		}
		if err := unmarshalOptional(delta.String, &ev.StateDelta); err != nil {
			return nil, err
		}
		if err := unmarshalOptional(cites.String, &ev.Citations); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if numRecent > 0 {
		slices.Reverse(events)
	}
	return events, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLService) getScopedTx(ctx context.Context, q queryer, query string, args ...any) (map[string]any, error) {
	var stateJSON string
	err := q.QueryRowContext(ctx, s.q(query), args...).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState(stateJSON)
}

func (s *SQLService) mergeScopedTx(ctx context.Context, tx *sql.Tx, appName, userID string, appDelta, userDelta map[string]any) error {
	now := time.Now().UTC()

	if len(appDelta) > 0 {
		existing, err := s.getScopedTx(ctx, tx, `SELECT state_json FROM app_states WHERE app_name = ?`, appName)
		if err != nil {
			return fmt.Errorf("failed to get app state: %w", err)
		}
		maps.Copy(existing, appDelta)
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.upsertAppStateQuery(), appName, string(data), now); err != nil {
			return fmt.Errorf("failed to save app state: %w", err)
		}
	}

	if len(userDelta) > 0 {
		existing, err := s.getScopedTx(ctx, tx, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, appName, userID)
		if err != nil {
			return fmt.Errorf("failed to get user state: %w", err)
		}
		maps.Copy(existing, userDelta)
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.upsertUserStateQuery(), appName, userID, string(data), now); err != nil {
			return fmt.Errorf("failed to save user state: %w", err)
		}
	}
	return nil
}

func (s *SQLService) upsertAppStateQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO app_states (app_name, state_json, updated_at) VALUES ($1, $2, $3)
                ON CONFLICT (app_name) DO UPDATE SET state_json = $2, updated_at = $3`
	case "mysql":
		return `INSERT INTO app_states (app_name, state_json, updated_at) VALUES (?, ?, ?)
                ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO app_states (app_name, state_json, updated_at) VALUES (?, ?, ?)
                ON CONFLICT (app_name) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

func (s *SQLService) upsertUserStateQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES ($1, $2, $3, $4)
                ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = $3, updated_at = $4`
	case "mysql":
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES (?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES (?, ?, ?, ?)
                ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

// forUpdate returns the row locking clause. SQLite runs on a single
// connection, which already serializes transactions.
func (s *SQLService) forUpdate() string {
	if s.dialect == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// q rewrites ? placeholders for the dialect.
func (s *SQLService) q(query string) string {
	if s.dialect == "postgres" {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

// convertToPostgresPlaceholders converts ? to $1, $2, etc. in a single pass.
func convertToPostgresPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
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

func decodeState(raw string) (map[string]any, error) {
	state := make(map[string]any)
	if raw == "" || raw == "null" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state == nil {
		state = make(map[string]any)
	}
	return state, nil
}

func marshalOptional(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalOptional(raw string, out any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to unmarshal event field: %w", err)
	}
	return nil
}

var _ Service = (*SQLService)(nil)
