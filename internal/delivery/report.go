// Package delivery renders compiled reports for humans and sends them
// by email.
package delivery

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/prospect-agent/prospect/internal/store"
)

// Markdown renders the report as a markdown document with the familiar
// bold section headers.
func Markdown(rep *store.Report) string {
	var b strings.Builder

	b.WriteString("# Project Feasibility Report\n\n")
	sections := []struct {
		header string
		body   string
	}{
		{"Summary", rep.Summary},
		{"Feasibility Assessment", rep.Feasibility},
		{"Recommended Tech Stack", rep.TechStack},
		{"Recommendations", rep.Recommendations},
		{"Risk Factors", rep.RiskFactors},
		{"Estimated Cost", rep.EstimatedCost},
		{"Estimated Timeline", rep.EstimatedTimeline},
	}
	for _, s := range sections {
		fmt.Fprintf(&b, "**%s**\n\n%s\n\n", s.header, s.body)
	}
	return b.String()
}

// HTML renders the report as a self-contained HTML page with no
// external resources, suitable for email bodies and browser viewing.
func HTML(rep *store.Report) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(rep)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Project Feasibility Report</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 42em; margin: 2em auto;">
%s
</body></html>`, buf.String())

	return page, nil
}

// PlainText flattens rendered HTML into readable text for the
// text/plain alternative part.
func PlainText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}

	var b strings.Builder
	walkText(doc, &b)
	return cleanWhitespace(b.String())
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "head":
			return
		case "p", "br", "h1", "h2", "h3", "li":
			b.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "h1", "h2", "h3":
			b.WriteString("\n")
		}
	}
}

// cleanWhitespace collapses runs of blank lines and trims each line.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
