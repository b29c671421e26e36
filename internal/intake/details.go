// Package intake implements the project intake conversation: eliciting
// the five project details turn by turn and compiling the feasibility
// report once they are all known.
package intake

import (
	"strings"

	"github.com/prospect-agent/prospect/internal/prompts"
	"github.com/prospect-agent/prospect/internal/store"
)

// Merge overlays delta onto base. Only non-blank delta fields replace;
// a blank delta field never erases something already learned.
func Merge(base store.ProjectDetails, delta store.ProjectDetails) store.ProjectDetails {
	out := base
	if strings.TrimSpace(delta.BigIdea) != "" {
		out.BigIdea = delta.BigIdea
	}
	if strings.TrimSpace(delta.Features) != "" {
		out.Features = delta.Features
	}
	if strings.TrimSpace(delta.Timeline) != "" {
		out.Timeline = delta.Timeline
	}
	if strings.TrimSpace(delta.Budget) != "" {
		out.Budget = delta.Budget
	}
	if strings.TrimSpace(delta.TechPreferences) != "" {
		out.TechPreferences = delta.TechPreferences
	}
	return out
}

// IsComplete reports whether every project detail has been collected.
// Any non-blank answer counts; quality is the report's problem.
func IsComplete(d store.ProjectDetails) bool {
	for _, v := range fieldValues(d) {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// NextQuestion returns the question for the first unanswered detail, or
// "" when everything has been collected.
func NextQuestion(d store.ProjectDetails) string {
	for i, v := range fieldValues(d) {
		if strings.TrimSpace(v) == "" {
			return prompts.Questions[i]
		}
	}
	return ""
}

// fieldValues returns the detail values in question order.
func fieldValues(d store.ProjectDetails) [5]string {
	return [5]string{d.BigIdea, d.Features, d.Timeline, d.Budget, d.TechPreferences}
}

// Transcript renders the session's dialogue for prompts and report
// context. System messages are scripted, not conversation, so they are
// left out.
func Transcript(messages []store.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == store.RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		switch m.Role {
		case store.RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
