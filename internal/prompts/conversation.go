package prompts

import (
	"fmt"
	"strings"

	"github.com/prospect-agent/prospect/internal/store"
)

// Welcome is the greeting recorded as the first message of every
// session. It doubles as the first question.
const Welcome = "Hello! I'm here to help you plan your software project. Let's start by understanding your vision. What is the main idea or concept for your project?"

// Apology is returned verbatim when the model call fails mid-turn.
const Apology = "I apologize, but I encountered a technical issue. Please try again."

// Questions are the intake questions in the order they are asked, one
// per project detail field.
var Questions = [5]string{
	"What is the main idea or concept for your project?",
	"What are the key features you want to include?",
	"What is your expected timeline for this project?",
	"What is your budget range for this project?",
	"Do you have any technology preferences or requirements?",
}

const conversationSystem = `You are a friendly software consultant gathering requirements for a new project. Your job is to learn five things from the user, one at a time, in this order:

1. The main idea or concept for the project
2. The key features they want to include
3. Their expected timeline
4. Their budget range
5. Their technology preferences or requirements

Acknowledge what the user tells you, then ask the next unanswered question. Ask one question at a time. Keep replies short and conversational. Never invent answers the user has not given.

When the user's latest message tells you something new about any of the five topics, append a fenced JSON block to the very end of your reply containing ONLY the newly learned fields, using these keys: big_idea, features, timeline, budget, tech_preferences. Example:

` + "```json" + `
{"budget": "around $30,000"}
` + "```" + `

If the message taught you nothing new, do not append a block. Never mention the block or the JSON to the user.`

// ConversationSystem builds the system prompt for a turn, embedding
// what is already known so the model neither re-asks answered questions
// nor re-reports known fields.
func ConversationSystem(d store.ProjectDetails) string {
	var b strings.Builder
	b.WriteString(conversationSystem)
	b.WriteString("\n\nWhat you know so far:\n")

	fields := []struct {
		label string
		value string
	}{
		{"Main idea", d.BigIdea},
		{"Key features", d.Features},
		{"Timeline", d.Timeline},
		{"Budget", d.Budget},
		{"Technology preferences", d.TechPreferences},
	}
	for _, f := range fields {
		v := f.value
		if v == "" {
			v = "Not provided"
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.label, v)
	}
	return b.String()
}
