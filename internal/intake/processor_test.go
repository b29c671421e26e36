package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prospect-agent/prospect/internal/llm"
	"github.com/prospect-agent/prospect/internal/prompts"
	"github.com/prospect-agent/prospect/internal/store"
)

// fakeClient replays scripted turn results in order.
type fakeClient struct {
	mu       sync.Mutex
	turns    []fakeTurn
	calls    int
	lastSent []llm.Message
}

type fakeTurn struct {
	text  string
	delta *store.ProjectDetails
	err   error
}

func (f *fakeClient) Converse(_ context.Context, messages []llm.Message) (*llm.ConverseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSent = messages
	if f.calls >= len(f.turns) {
		return nil, fmt.Errorf("unscripted call %d", f.calls)
	}
	turn := f.turns[f.calls]
	f.calls++
	if turn.err != nil {
		return nil, turn.err
	}
	return &llm.ConverseResult{Text: turn.text, Delta: turn.delta}, nil
}

func (f *fakeClient) GenerateReport(_ context.Context, _ string) (string, error) {
	return "", errors.New("not scripted")
}

func (f *fakeClient) Ping(context.Context) error { return nil }

// recordingNotifier remembers which events fired.
type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
	reports   []string
	done      chan struct{}
}

func (n *recordingNotifier) SessionCompleted(sess *store.Session) {
	n.mu.Lock()
	n.completed = append(n.completed, sess.ID)
	n.mu.Unlock()
	if n.done != nil {
		n.done <- struct{}{}
	}
}

func (n *recordingNotifier) ReportGenerated(rep *store.Report) {
	n.mu.Lock()
	n.reports = append(n.reports, rep.SessionID)
	n.mu.Unlock()
	if n.done != nil {
		n.done <- struct{}{}
	}
}

func TestProcessTurnStartsSessionWithWelcome(t *testing.T) {
	s := store.NewMemoryStore()
	client := &fakeClient{turns: []fakeTurn{
		{text: "Nice! What features do you need?", delta: &store.ProjectDetails{BigIdea: "a recipe app"}},
	}}
	p := NewProcessor(s, client, nil, nil)

	result, err := p.ProcessTurn(context.Background(), "s1", "I want a recipe app", store.ChannelChat, "")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result.Reply != "Nice! What features do you need?" {
		t.Errorf("Reply = %q", result.Reply)
	}
	if result.Details.BigIdea != "a recipe app" {
		t.Errorf("Details.BigIdea = %q", result.Details.BigIdea)
	}
	if result.Completed {
		t.Error("one answered field marked the session complete")
	}

	sess, _ := s.GetSession("s1")
	wantRoles := []store.Role{store.RoleSystem, store.RoleUser, store.RoleAssistant}
	if len(sess.Messages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(sess.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if sess.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, sess.Messages[i].Role, role)
		}
	}
	if sess.Messages[0].Content != prompts.Welcome {
		t.Errorf("first message = %q, want welcome", sess.Messages[0].Content)
	}
}

func TestProcessTurnSendsHistoryInOrder(t *testing.T) {
	s := store.NewMemoryStore()
	client := &fakeClient{turns: []fakeTurn{
		{text: "first reply", delta: &store.ProjectDetails{BigIdea: "x"}},
		{text: "second reply"},
	}}
	p := NewProcessor(s, client, nil, nil)

	ctx := context.Background()
	if _, err := p.ProcessTurn(ctx, "s1", "turn one", store.ChannelChat, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessTurn(ctx, "s1", "turn two", store.ChannelChat, ""); err != nil {
		t.Fatal(err)
	}

	sent := client.lastSent
	// live system prompt + user + assistant + user; the stored welcome
	// stays out of the model context
	if len(sent) != 4 {
		t.Fatalf("sent %d messages, want 4", len(sent))
	}
	if sent[0].Role != "system" {
		t.Errorf("first wire message role = %q, want system", sent[0].Role)
	}
	// Big idea was learned on turn one, so turn two steers toward features.
	if !strings.Contains(sent[0].Content, prompts.Questions[1]) {
		t.Errorf("system prompt does not steer to the next question:\n%s", sent[0].Content)
	}
	for i, m := range sent[1:] {
		if m.Content == prompts.Welcome {
			t.Errorf("wire message %d carries the scripted welcome", i+1)
		}
	}
	if sent[1].Role != "user" || sent[1].Content != "turn one" {
		t.Errorf("wire message 1 = %q/%q, want the first user turn", sent[1].Role, sent[1].Content)
	}
	if sent[2].Role != "assistant" || sent[2].Content != "first reply" {
		t.Errorf("wire message 2 = %q/%q, want the first reply", sent[2].Role, sent[2].Content)
	}
	if sent[3].Role != "user" || sent[3].Content != "turn two" {
		t.Errorf("last wire message = %q/%q", sent[3].Role, sent[3].Content)
	}
}

func TestProcessTurnApologyOnModelFailure(t *testing.T) {
	s := store.NewMemoryStore()
	client := &fakeClient{turns: []fakeTurn{
		{text: "ok", delta: &store.ProjectDetails{BigIdea: "a kiosk app"}},
		{err: errors.New("upstream 503")},
	}}
	p := NewProcessor(s, client, nil, nil)

	ctx := context.Background()
	if _, err := p.ProcessTurn(ctx, "s1", "a kiosk app", store.ChannelChat, ""); err != nil {
		t.Fatal(err)
	}

	result, err := p.ProcessTurn(ctx, "s1", "it should take payments", store.ChannelChat, "")
	if err != nil {
		t.Fatalf("model failure surfaced as error: %v", err)
	}
	if result.Reply != prompts.Apology {
		t.Errorf("Reply = %q, want apology", result.Reply)
	}
	if result.Details.BigIdea != "a kiosk app" || result.Details.Features != "" {
		t.Errorf("details changed on failed turn: %+v", result.Details)
	}

	sess, _ := s.GetSession("s1")
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != store.RoleAssistant || last.Content != prompts.Apology {
		t.Errorf("last message = %q/%q, want recorded apology", last.Role, last.Content)
	}
	// The failed user turn is still on the record.
	if sess.Messages[len(sess.Messages)-2].Content != "it should take payments" {
		t.Error("user utterance from failed turn not recorded")
	}
}

func TestProcessTurnCompletesAfterFiveAnswers(t *testing.T) {
	s := store.NewMemoryStore()
	notifier := &recordingNotifier{done: make(chan struct{}, 1)}
	client := &fakeClient{turns: []fakeTurn{
		{text: "q2", delta: &store.ProjectDetails{BigIdea: "fitness tracker"}},
		{text: "q3", delta: &store.ProjectDetails{Features: "workouts, charts"}},
		{text: "q4", delta: &store.ProjectDetails{Timeline: "4 months"}},
		{text: "q5", delta: &store.ProjectDetails{Budget: "$25k"}},
		{text: "all set!", delta: &store.ProjectDetails{TechPreferences: "native mobile"}},
	}}
	p := NewProcessor(s, client, notifier, nil)

	ctx := context.Background()
	answers := []string{"fitness tracker", "workouts and charts", "4 months", "$25k", "native mobile"}

	var last *TurnResult
	for i, a := range answers {
		var err error
		last, err = p.ProcessTurn(ctx, "s1", a, store.ChannelChat, "")
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		if i < len(answers)-1 && last.Completed {
			t.Errorf("turn %d marked complete early", i+1)
		}
	}

	if !last.Completed {
		t.Fatal("final turn did not complete the session")
	}
	if last.Status != store.StatusCompleted {
		t.Errorf("Status = %q, want completed", last.Status)
	}

	sess, _ := s.GetSession("s1")
	if sess.Status != store.StatusCompleted {
		t.Errorf("stored status = %q", sess.Status)
	}
	if !IsComplete(sess.Details) {
		t.Errorf("stored details incomplete: %+v", sess.Details)
	}

	<-notifier.done
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.completed) != 1 || notifier.completed[0] != "s1" {
		t.Errorf("completion events = %v, want [s1]", notifier.completed)
	}
}

func TestProcessTurnConcurrentSameSession(t *testing.T) {
	s := store.NewMemoryStore()

	// Enough scripted turns for every goroutine.
	turns := make([]fakeTurn, 20)
	for i := range turns {
		turns[i] = fakeTurn{text: "ack"}
	}
	client := &fakeClient{turns: turns}
	p := NewProcessor(s, client, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.ProcessTurn(context.Background(), "s1", fmt.Sprintf("msg %d", i), store.ChannelChat, "")
			if err != nil {
				t.Errorf("concurrent turn: %v", err)
			}
		}(i)
	}
	wg.Wait()

	sess, _ := s.GetSession("s1")
	// 1 welcome + 10 user + 10 assistant
	if len(sess.Messages) != 21 {
		t.Errorf("got %d messages, want 21", len(sess.Messages))
	}
	// Turns serialize, so user and assistant messages alternate.
	for i := 1; i < len(sess.Messages); i += 2 {
		if sess.Messages[i].Role != store.RoleUser {
			t.Fatalf("message %d role = %q, want user", i, sess.Messages[i].Role)
		}
		if sess.Messages[i+1].Role != store.RoleAssistant {
			t.Fatalf("message %d role = %q, want assistant", i+1, sess.Messages[i+1].Role)
		}
	}
}

func TestStartSessionIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	p := NewProcessor(s, &fakeClient{}, nil, nil)

	first, err := p.StartSession("voice_abc", store.ChannelVoice, "+15550100")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Messages) != 1 || first.Messages[0].Content != prompts.Welcome {
		t.Errorf("new session messages = %+v", first.Messages)
	}

	again, err := p.StartSession("voice_abc", store.ChannelVoice, "+15550100")
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Messages) != 1 {
		t.Errorf("restart duplicated the welcome: %d messages", len(again.Messages))
	}
}
