package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prospect-agent/prospect/internal/config"
	"github.com/prospect-agent/prospect/internal/store"
)

func TestTopics(t *testing.T) {
	p := New(config.MQTTConfig{DeviceName: "prospect"}, nil)

	if got := p.availabilityTopic(); got != "prospect/prospect/availability" {
		t.Errorf("availability topic = %q", got)
	}
	if got := p.eventTopic("session/completed"); got != "prospect/prospect/session/completed" {
		t.Errorf("completion topic = %q", got)
	}
	if got := p.eventTopic("report/generated"); got != "prospect/prospect/report/generated" {
		t.Errorf("report topic = %q", got)
	}
}

func TestCompletionEventPayload(t *testing.T) {
	sess := &store.Session{
		ID:      "s1",
		Channel: store.ChannelChat,
		Details: store.ProjectDetails{BigIdea: "a booking app"},
	}

	payload, err := json.Marshal(sessionCompletedEvent{
		SessionID:   sess.ID,
		Channel:     string(sess.Channel),
		Details:     sess.Details,
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["session_id"] != "s1" || got["channel"] != "chat" {
		t.Errorf("payload = %v", got)
	}
	details, ok := got["details"].(map[string]any)
	if !ok || details["big_idea"] != "a booking app" {
		t.Errorf("details in payload = %v", got["details"])
	}
}

func TestPublishBeforeStartIsNoOp(t *testing.T) {
	p := New(config.MQTTConfig{DeviceName: "prospect"}, nil)

	// Must not panic or block with no connection.
	p.SessionCompleted(&store.Session{ID: "s1"})
	p.ReportGenerated(&store.Report{ID: "r1", SessionID: "s1"})
}
