package intake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prospect-agent/prospect/internal/llm"
	"github.com/prospect-agent/prospect/internal/prompts"
	"github.com/prospect-agent/prospect/internal/store"
)

// Notifier receives best-effort events about session milestones.
// Implementations must not block; failures are theirs to log.
type Notifier interface {
	SessionCompleted(sess *store.Session)
	ReportGenerated(rep *store.Report)
}

// TurnResult is the outcome of one processed dialogue turn.
type TurnResult struct {
	SessionID string               `json:"session_id"`
	Reply     string               `json:"reply"`
	Details   store.ProjectDetails `json:"details"`
	Status    store.Status         `json:"status"`
	Completed bool                 `json:"completed"`
}

// Processor drives the intake conversation: one user utterance in, one
// agent reply out, with detail extraction and completion on the side.
type Processor struct {
	store    store.Store
	client   llm.Client
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProcessor creates a turn processor. notifier may be nil.
func NewProcessor(s store.Store, client llm.Client, notifier Notifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    s,
		client:   client,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing turns for one session.
// Turns on different sessions proceed in parallel.
func (p *Processor) sessionLock(sessionID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[sessionID] = l
	}
	return l
}

// ProcessTurn records the user's utterance, asks the model for the next
// reply, merges any newly learned details, and completes the session
// when all five are known. An unknown sessionID starts a new session
// whose transcript opens with the welcome message.
//
// A model failure is not an error to the caller: the turn still
// records the utterance and replies with a fixed apology, leaving the
// collected details untouched.
func (p *Processor) ProcessTurn(ctx context.Context, sessionID, userText string, channel store.Channel, phone string) (*TurnResult, error) {
	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := p.store.GetSession(sessionID)
	if err != nil {
		return nil, &StoreError{Op: "get session", Err: err}
	}
	if sess == nil {
		sess, err = p.store.CreateSession(sessionID, channel, phone)
		if err != nil {
			return nil, &StoreError{Op: "create session", Err: err}
		}
		welcome, err := p.store.AppendMessage(sessionID, store.RoleSystem, prompts.Welcome, "", "")
		if err != nil {
			return nil, &StoreError{Op: "append message", Err: err}
		}
		sess.Messages = append(sess.Messages, *welcome)
		p.logger.Info("session started", "session_id", sessionID, "channel", channel)
	}

	userMsg, err := p.store.AppendMessage(sessionID, store.RoleUser, userText, "", "")
	if err != nil {
		return nil, &StoreError{Op: "append message", Err: err}
	}
	sess.Messages = append(sess.Messages, *userMsg)

	result, err := p.client.Converse(ctx, p.wireMessages(sess))
	if err != nil {
		p.logger.Error("model call failed", "session_id", sessionID, "error", err)
		if _, aerr := p.store.AppendMessage(sessionID, store.RoleAssistant, prompts.Apology, "", ""); aerr != nil {
			return nil, &StoreError{Op: "append message", Err: aerr}
		}
		return &TurnResult{
			SessionID: sessionID,
			Reply:     prompts.Apology,
			Details:   sess.Details,
			Status:    sess.Status,
		}, nil
	}

	details := sess.Details
	completedNow := false
	if result.Delta != nil {
		merged := Merge(details, *result.Delta)
		complete := IsComplete(merged)
		if err := p.store.UpdateDetails(sessionID, merged, complete); err != nil {
			return nil, &StoreError{Op: "update details", Err: err}
		}
		details = merged
		completedNow = complete && sess.Status == store.StatusActive
	}

	if _, err := p.store.AppendMessage(sessionID, store.RoleAssistant, result.Text, "", ""); err != nil {
		return nil, &StoreError{Op: "append message", Err: err}
	}

	status := sess.Status
	if completedNow {
		status = store.StatusCompleted
		p.logger.Info("session completed", "session_id", sessionID)
		if p.notifier != nil {
			done, err := p.store.GetSession(sessionID)
			if err == nil && done != nil {
				go p.notifier.SessionCompleted(done)
			}
		}
	}

	return &TurnResult{
		SessionID: sessionID,
		Reply:     result.Text,
		Details:   details,
		Status:    status,
		Completed: completedNow,
	}, nil
}

// StartSession creates a session without a user turn and returns the
// welcome message, for callers that greet before listening.
func (p *Processor) StartSession(sessionID string, channel store.Channel, phone string) (*store.Session, error) {
	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := p.store.GetSession(sessionID)
	if err != nil {
		return nil, &StoreError{Op: "get session", Err: err}
	}
	if sess != nil {
		return sess, nil
	}

	sess, err = p.store.CreateSession(sessionID, channel, phone)
	if err != nil {
		return nil, &StoreError{Op: "create session", Err: err}
	}
	welcome, err := p.store.AppendMessage(sessionID, store.RoleSystem, prompts.Welcome, "", "")
	if err != nil {
		return nil, &StoreError{Op: "append message", Err: err}
	}
	sess.Messages = append(sess.Messages, *welcome)
	p.logger.Info("session started", "session_id", sessionID, "channel", channel)
	return sess, nil
}

// wireMessages converts the stored transcript into provider messages,
// prefixed by the live system prompt. Stored system messages such as
// the scripted welcome stay out; the live prompt is the only system
// turn the model sees.
func (p *Processor) wireMessages(sess *store.Session) []llm.Message {
	system := prompts.ConversationSystem(sess.Details)
	if q := NextQuestion(sess.Details); q != "" {
		system += "\nThe next question to ask: " + q
	}

	msgs := make([]llm.Message, 0, len(sess.Messages)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: system})

	for _, m := range sess.Messages {
		if m.Role == store.RoleSystem {
			continue
		}
		role := "assistant"
		if m.Role == store.RoleUser {
			role = "user"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs
}
