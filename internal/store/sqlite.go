package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB wraps an already-open database handle. The caller owns
// the handle's driver choice; tests pass an in-memory database here.
func NewStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	-- Intake sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		phone_number TEXT,
		big_idea TEXT NOT NULL DEFAULT '',
		features TEXT NOT NULL DEFAULT '',
		timeline TEXT NOT NULL DEFAULT '',
		budget TEXT NOT NULL DEFAULT '',
		tech_preferences TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	-- Messages
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		audio_ref TEXT,
		transcript TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);

	-- Reports (one per session, recompiles replace)
	CREATE TABLE IF NOT EXISTS reports (
		session_id TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		summary TEXT NOT NULL,
		feasibility TEXT NOT NULL,
		tech_stack TEXT NOT NULL,
		recommendations TEXT NOT NULL,
		risk_factors TEXT NOT NULL,
		estimated_cost TEXT NOT NULL,
		estimated_timeline TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new active session.
func (s *SQLiteStore) CreateSession(id string, channel Channel, phone string) (*Session, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, channel, status, phone_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, string(channel), string(StatusActive), phone, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrSessionExists
	}

	return &Session{
		ID:          id,
		Channel:     channel,
		Status:      StatusActive,
		PhoneNumber: phone,
		Messages:    []Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetSession returns the session with messages in insertion order, or
// (nil, nil) if no session exists.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, channel, status, phone_number,
		       big_idea, features, timeline, budget, tech_preferences,
		       created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var channel, status string
	var phone sql.NullString
	err := row.Scan(&sess.ID, &channel, &status, &phone,
		&sess.Details.BigIdea, &sess.Details.Features, &sess.Details.Timeline,
		&sess.Details.Budget, &sess.Details.TechPreferences,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	sess.Channel = Channel(channel)
	sess.Status = Status(status)
	if phone.Valid {
		sess.PhoneNumber = phone.String
	}

	sess.Messages, err = s.getMessages(id)
	if err != nil {
		return nil, err
	}
	sess.Report, err = s.getReport(id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) getMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, audio_ref, transcript, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m := Message{SessionID: sessionID}
		var audioRef, transcript sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &audioRef, &transcript, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if audioRef.Valid {
			m.AudioRef = audioRef.String
		}
		if transcript.Valid {
			m.Transcript = transcript.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) getReport(sessionID string) (*Report, error) {
	row := s.db.QueryRow(`
		SELECT id, summary, feasibility, tech_stack, recommendations,
		       risk_factors, estimated_cost, estimated_timeline, created_at
		FROM reports WHERE session_id = ?
	`, sessionID)

	rep := Report{SessionID: sessionID}
	err := row.Scan(&rep.ID, &rep.Summary, &rep.Feasibility, &rep.TechStack,
		&rep.Recommendations, &rep.RiskFactors, &rep.EstimatedCost,
		&rep.EstimatedTimeline, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	return &rep, nil
}

// AppendMessage records a message on the session.
func (s *SQLiteStore) AppendMessage(sessionID string, role Role, content, audioRef, transcript string) (*Message, error) {
	now := time.Now().UTC()
	msgID, _ := uuid.NewV7()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNoSuchSession
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, session_id, role, content, audio_ref, transcript, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msgID.String(), sessionID, string(role), content, audioRef, transcript, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Message{
		ID:         msgID.String(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		AudioRef:   audioRef,
		Transcript: transcript,
		Timestamp:  now,
	}, nil
}

// UpdateDetails replaces the project details in a single UPDATE. The
// status transition to completed is folded into the same statement so
// concurrent turns serialize on the database write.
func (s *SQLiteStore) UpdateDetails(sessionID string, d ProjectDetails, markComplete bool) error {
	now := time.Now().UTC()

	var res sql.Result
	var err error
	if markComplete {
		res, err = s.db.Exec(`
			UPDATE sessions
			SET big_idea = ?, features = ?, timeline = ?, budget = ?, tech_preferences = ?,
			    status = CASE WHEN status = ? THEN ? ELSE status END,
			    updated_at = ?
			WHERE id = ?
		`, d.BigIdea, d.Features, d.Timeline, d.Budget, d.TechPreferences,
			string(StatusActive), string(StatusCompleted), now, sessionID)
	} else {
		res, err = s.db.Exec(`
			UPDATE sessions
			SET big_idea = ?, features = ?, timeline = ?, budget = ?, tech_preferences = ?,
			    updated_at = ?
			WHERE id = ?
		`, d.BigIdea, d.Features, d.Timeline, d.Budget, d.TechPreferences, now, sessionID)
	}
	if err != nil {
		return fmt.Errorf("update details: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoSuchSession
	}
	return nil
}

// SetStatus forces a lifecycle state.
func (s *SQLiteStore) SetStatus(sessionID string, status Status) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoSuchSession
	}
	return nil
}

// CreateReport stores the report, replacing any previous one for the
// same session.
func (s *SQLiteStore) CreateReport(sessionID string, sections ReportSections) (*Report, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNoSuchSession
	}

	now := time.Now().UTC()
	repID, _ := uuid.NewV7()

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO reports
			(session_id, id, summary, feasibility, tech_stack, recommendations,
			 risk_factors, estimated_cost, estimated_timeline, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, repID.String(), sections.Summary, sections.Feasibility,
		sections.TechStack, sections.Recommendations, sections.RiskFactors,
		sections.EstimatedCost, sections.EstimatedTimeline, now)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}

	return &Report{
		ID:             repID.String(),
		SessionID:      sessionID,
		ReportSections: sections,
		CreatedAt:      now,
	}, nil
}

// CountByStatus returns the number of sessions in a given state.
func (s *SQLiteStore) CountByStatus(status Status) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// ListSessions returns every session, newest activity first, without
// loading messages or report.
func (s *SQLiteStore) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, channel, status, phone_number,
		       big_idea, features, timeline, budget, tech_preferences,
		       created_at, updated_at
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var channel, status string
		var phone sql.NullString
		err := rows.Scan(&sess.ID, &channel, &status, &phone,
			&sess.Details.BigIdea, &sess.Details.Features, &sess.Details.Timeline,
			&sess.Details.Budget, &sess.Details.TechPreferences,
			&sess.CreatedAt, &sess.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Channel = Channel(channel)
		sess.Status = Status(status)
		if phone.Valid {
			sess.PhoneNumber = phone.String
		}
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
