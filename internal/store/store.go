// Package store provides durable storage for intake sessions, their
// message transcripts, and compiled feasibility reports.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel identifies how the user reached the intake agent.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelVoice Channel = "voice"
)

// Status is the session lifecycle state. A session moves from active to
// completed exactly once, when all project details have been collected;
// it never moves back.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ProjectDetails is the five-field project profile elicited over the
// course of a session. Fields are free text; empty means not yet known.
type ProjectDetails struct {
	BigIdea         string `json:"big_idea,omitempty"`
	Features        string `json:"features,omitempty"`
	Timeline        string `json:"timeline,omitempty"`
	Budget          string `json:"budget,omitempty"`
	TechPreferences string `json:"tech_preferences,omitempty"`
}

// Session is one end-to-end intake conversation.
type Session struct {
	ID          string         `json:"id"`
	Channel     Channel        `json:"channel"`
	Status      Status         `json:"status"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	Details     ProjectDetails `json:"details"`
	Messages    []Message      `json:"messages"`
	Report      *Report        `json:"report,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Message is a single utterance within a session. Messages are
// immutable once created; insertion order is the canonical order.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	AudioRef   string    `json:"audio_ref,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReportSections holds the seven narrative sections of a feasibility
// report, as parsed from model output.
type ReportSections struct {
	Summary           string `json:"summary"`
	Feasibility       string `json:"feasibility"`
	TechStack         string `json:"tech_stack"`
	Recommendations   string `json:"recommendations"`
	RiskFactors       string `json:"risk_factors"`
	EstimatedCost     string `json:"estimated_cost,omitempty"`
	EstimatedTimeline string `json:"estimated_timeline,omitempty"`
}

// Report is the compiled feasibility assessment for a completed
// session. At most one report exists per session; recompiling replaces
// it atomically.
type Report struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	ReportSections
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence contract consumed by the intake core.
type Store interface {
	// CreateSession creates a new active session. phone may be empty.
	CreateSession(id string, channel Channel, phone string) (*Session, error)

	// GetSession returns the session with its messages in insertion
	// order and its report if one exists. Returns (nil, nil) when no
	// session exists for the id.
	GetSession(id string) (*Session, error)

	// AppendMessage records a message on the session. audioRef and
	// transcript may be empty for text messages.
	AppendMessage(sessionID string, role Role, content, audioRef, transcript string) (*Message, error)

	// UpdateDetails replaces the session's project details. When
	// markComplete is true and the session is still active, the status
	// moves to completed in the same atomic update, so two concurrent
	// turns cannot both trigger completion or overwrite each other's
	// merged fields.
	UpdateDetails(sessionID string, d ProjectDetails, markComplete bool) error

	// SetStatus forces a lifecycle state (archival, admin tooling).
	SetStatus(sessionID string, status Status) error

	// CreateReport stores the report for a session, replacing any
	// previous one.
	CreateReport(sessionID string, sections ReportSections) (*Report, error)

	// CountByStatus returns the number of sessions in a given state.
	CountByStatus(status Status) (int, error)

	// ListSessions returns every session, newest activity first, with
	// messages and report left unloaded. It backs the admin listing.
	ListSessions() ([]*Session, error)
}

// MemoryStore is an in-memory Store. It backs tests and api-only
// deployments with no database path configured; all state is lost on
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// CreateSession creates a new active session.
func (s *MemoryStore) CreateSession(id string, channel Channel, phone string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, ErrSessionExists
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:          id,
		Channel:     channel,
		Status:      StatusActive,
		PhoneNumber: phone,
		Messages:    []Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[id] = sess
	return sess.copy(), nil
}

// GetSession returns a copy of the session, or (nil, nil) if absent.
func (s *MemoryStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return sess.copy(), nil
}

// AppendMessage records a message in arrival order.
func (s *MemoryStore) AppendMessage(sessionID string, role Role, content, audioRef, transcript string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNoSuchSession
	}

	id, _ := uuid.NewV7()
	msg := Message{
		ID:         id.String(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		AudioRef:   audioRef,
		Transcript: transcript,
		Timestamp:  time.Now().UTC(),
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	return &msg, nil
}

// UpdateDetails replaces the project details, optionally completing the
// session. The whole update happens under one lock acquisition.
func (s *MemoryStore) UpdateDetails(sessionID string, d ProjectDetails, markComplete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNoSuchSession
	}

	sess.Details = d
	if markComplete && sess.Status == StatusActive {
		sess.Status = StatusCompleted
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus forces a lifecycle state.
func (s *MemoryStore) SetStatus(sessionID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNoSuchSession
	}
	sess.Status = status
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateReport stores the report, replacing any previous one.
func (s *MemoryStore) CreateReport(sessionID string, sections ReportSections) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNoSuchSession
	}

	id, _ := uuid.NewV7()
	report := &Report{
		ID:             id.String(),
		SessionID:      sessionID,
		ReportSections: sections,
		CreatedAt:      time.Now().UTC(),
	}
	sess.Report = report
	rep := *report
	return &rep, nil
}

// CountByStatus returns the number of sessions in a given state.
func (s *MemoryStore) CountByStatus(status Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.Status == status {
			n++
		}
	}
	return n, nil
}

// ListSessions returns copies of every session, newest activity first,
// without messages or report.
func (s *MemoryStore) ListSessions() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		dup := *sess
		dup.Messages = nil
		dup.Report = nil
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (sess *Session) copy() *Session {
	msgs := make([]Message, len(sess.Messages))
	copy(msgs, sess.Messages)

	dup := *sess
	dup.Messages = msgs
	if sess.Report != nil {
		rep := *sess.Report
		dup.Report = &rep
	}
	return &dup
}
