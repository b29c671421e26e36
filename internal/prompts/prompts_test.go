package prompts

import (
	"strings"
	"testing"

	"github.com/prospect-agent/prospect/internal/store"
)

func TestConversationSystemMarksUnknownFields(t *testing.T) {
	p := ConversationSystem(store.ProjectDetails{
		BigIdea: "a dog-walking marketplace",
		Budget:  "$40k",
	})

	if !strings.Contains(p, "Main idea: a dog-walking marketplace") {
		t.Error("known field missing from prompt")
	}
	if !strings.Contains(p, "Budget: $40k") {
		t.Error("known budget missing from prompt")
	}
	for _, label := range []string{"Key features", "Timeline", "Technology preferences"} {
		if !strings.Contains(p, label+": Not provided") {
			t.Errorf("unknown field %q not marked Not provided", label)
		}
	}
}

func TestReportPromptIncludesAllHeaders(t *testing.T) {
	p := Report(store.ProjectDetails{BigIdea: "x"}, "User: hi\nAssistant: hello")

	for _, h := range ReportHeaders {
		if !strings.Contains(p, h) {
			t.Errorf("prompt missing header %q", h)
		}
	}
	if !strings.Contains(p, "User: hi") {
		t.Error("transcript missing from prompt")
	}
}

func TestWelcomeEndsWithFirstQuestion(t *testing.T) {
	if !strings.HasSuffix(Welcome, Questions[0]) {
		t.Errorf("welcome %q does not end with first question %q", Welcome, Questions[0])
	}
}
