package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateSession("s1", ChannelVoice, "+15550100"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.CreateSession("s1", ChannelVoice, ""); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate create error = %v, want ErrSessionExists", err)
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil {
		t.Fatal("GetSession returned nil")
	}
	if sess.Channel != ChannelVoice || sess.PhoneNumber != "+15550100" {
		t.Errorf("got channel=%q phone=%q", sess.Channel, sess.PhoneNumber)
	}
	if sess.Status != StatusActive {
		t.Errorf("status = %q, want active", sess.Status)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("new session has %d messages", len(sess.Messages))
	}

	absent, err := s.GetSession("nope")
	if err != nil || absent != nil {
		t.Errorf("GetSession(nope) = %v, %v; want nil, nil", absent, err)
	}
}

func TestSQLiteMessagesOrdered(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateSession("s1", ChannelChat, ""); err != nil {
		t.Fatal(err)
	}

	turns := []struct {
		role    Role
		content string
	}{
		{RoleSystem, "welcome"},
		{RoleUser, "hi"},
		{RoleAssistant, "hello back"},
	}
	for _, turn := range turns {
		if _, err := s.AppendMessage("s1", turn.role, turn.content, "", ""); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != len(turns) {
		t.Fatalf("got %d messages, want %d", len(sess.Messages), len(turns))
	}
	for i, turn := range turns {
		if sess.Messages[i].Role != turn.role || sess.Messages[i].Content != turn.content {
			t.Errorf("message %d = %q/%q, want %q/%q",
				i, sess.Messages[i].Role, sess.Messages[i].Content, turn.role, turn.content)
		}
	}

	if _, err := s.AppendMessage("nope", RoleUser, "x", "", ""); !errors.Is(err, ErrNoSuchSession) {
		t.Errorf("append to unknown session error = %v, want ErrNoSuchSession", err)
	}
}

func TestSQLiteVoiceMessageFields(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateSession("voice_abc", ChannelVoice, "+15550100"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendMessage("voice_abc", RoleUser, "I want an app", "rec-17.wav", "I want an app"); err != nil {
		t.Fatal(err)
	}

	sess, _ := s.GetSession("voice_abc")
	m := sess.Messages[0]
	if m.AudioRef != "rec-17.wav" || m.Transcript != "I want an app" {
		t.Errorf("audio fields = %q/%q", m.AudioRef, m.Transcript)
	}
}

func TestSQLiteUpdateDetailsCompletes(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateSession("s1", ChannelChat, ""); err != nil {
		t.Fatal(err)
	}

	partial := ProjectDetails{BigIdea: "inventory tracker"}
	if err := s.UpdateDetails("s1", partial, false); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	sess, _ := s.GetSession("s1")
	if sess.Details.BigIdea != "inventory tracker" || sess.Status != StatusActive {
		t.Errorf("after partial update: details=%+v status=%q", sess.Details, sess.Status)
	}

	full := ProjectDetails{
		BigIdea:         "inventory tracker",
		Features:        "barcode scans, alerts",
		Timeline:        "3 months",
		Budget:          "$20k",
		TechPreferences: "mobile first",
	}
	if err := s.UpdateDetails("s1", full, true); err != nil {
		t.Fatalf("UpdateDetails complete: %v", err)
	}
	sess, _ = s.GetSession("s1")
	if sess.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", sess.Status)
	}

	// markComplete must not resurrect a non-active session.
	if err := s.SetStatus("s1", StatusArchived); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDetails("s1", full, true); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.GetSession("s1")
	if sess.Status != StatusArchived {
		t.Errorf("status = %q after markComplete on archived session", sess.Status)
	}

	if err := s.UpdateDetails("nope", full, false); !errors.Is(err, ErrNoSuchSession) {
		t.Errorf("update unknown session error = %v, want ErrNoSuchSession", err)
	}
}

func TestSQLiteReportUpsert(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateSession("s1", ChannelChat, ""); err != nil {
		t.Fatal(err)
	}

	sections := ReportSections{
		Summary:           "A focused MVP.",
		Feasibility:       "High.",
		TechStack:         "Go and SQLite.",
		Recommendations:   "Start small.",
		RiskFactors:       "Scope creep.",
		EstimatedCost:     "$20k-$30k",
		EstimatedTimeline: "3 months",
	}
	if _, err := s.CreateReport("s1", sections); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}

	sections.Summary = "A sharper MVP."
	rep, err := s.CreateReport("s1", sections)
	if err != nil {
		t.Fatalf("CreateReport replace: %v", err)
	}

	sess, _ := s.GetSession("s1")
	if sess.Report == nil {
		t.Fatal("report missing after upsert")
	}
	if sess.Report.Summary != "A sharper MVP." {
		t.Errorf("Summary = %q, want replaced text", sess.Report.Summary)
	}
	if sess.Report.ID != rep.ID {
		t.Errorf("stored report id %q != returned %q", sess.Report.ID, rep.ID)
	}

	if _, err := s.CreateReport("nope", sections); !errors.Is(err, ErrNoSuchSession) {
		t.Errorf("report for unknown session error = %v, want ErrNoSuchSession", err)
	}
}

func TestSQLiteCountByStatus(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := s.CreateSession(id, ChannelChat, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetStatus("a", StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus("b", StatusCompleted); err != nil {
		t.Fatal(err)
	}

	active, err := s.CountByStatus(StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	completed, err := s.CountByStatus(StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if active != 2 || completed != 2 {
		t.Errorf("counts = %d active, %d completed; want 2, 2", active, completed)
	}
}

func TestSQLiteListSessions(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b"} {
		if _, err := s.CreateSession(id, ChannelChat, ""); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(time.Millisecond)
	if _, err := s.AppendMessage("a", RoleUser, "hi", "", ""); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != "a" {
		t.Errorf("first session = %q, want the most recently updated", sessions[0].ID)
	}
	if len(sessions[0].Messages) != 0 || sessions[0].Report != nil {
		t.Error("listing should not carry messages or report")
	}
}
