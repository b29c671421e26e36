package prompts

import (
	"fmt"
	"strings"

	"github.com/prospect-agent/prospect/internal/store"
)

// ReportHeaders are the section headers the report prompt demands, in
// document order. The compiler scans for these exact markers.
var ReportHeaders = [7]string{
	"**Summary**",
	"**Feasibility Assessment**",
	"**Recommended Tech Stack**",
	"**Recommendations**",
	"**Risk Factors**",
	"**Estimated Cost**",
	"**Estimated Timeline**",
}

// Report builds the one-shot report generation prompt from the
// collected project details and the conversation transcript.
func Report(d store.ProjectDetails, transcript string) string {
	var b strings.Builder

	b.WriteString("You are a senior software consultant. Based on the project details and conversation below, write a concise feasibility report.\n\n")

	b.WriteString("Project details:\n")
	fmt.Fprintf(&b, "- Main idea: %s\n", d.BigIdea)
	fmt.Fprintf(&b, "- Key features: %s\n", d.Features)
	fmt.Fprintf(&b, "- Timeline: %s\n", d.Timeline)
	fmt.Fprintf(&b, "- Budget: %s\n", d.Budget)
	fmt.Fprintf(&b, "- Technology preferences: %s\n", d.TechPreferences)

	if transcript != "" {
		b.WriteString("\nConversation:\n")
		b.WriteString(transcript)
		b.WriteString("\n")
	}

	b.WriteString("\nStructure the report with exactly these bold section headers, each on its own line, in this order:\n\n")
	for _, h := range ReportHeaders {
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite a short paragraph under each header. Be specific and practical; ground every claim in what the user actually said.")

	return b.String()
}
