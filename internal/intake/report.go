package intake

import (
	"bufio"
	"context"
	"log/slog"
	"strings"

	"github.com/prospect-agent/prospect/internal/llm"
	"github.com/prospect-agent/prospect/internal/prompts"
	"github.com/prospect-agent/prospect/internal/store"
)

// Compiler turns a completed session into a structured feasibility
// report.
type Compiler struct {
	store    store.Store
	client   llm.Client
	notifier Notifier
	logger   *slog.Logger
}

// NewCompiler creates a report compiler. notifier may be nil.
func NewCompiler(s store.Store, client llm.Client, notifier Notifier, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{store: s, client: client, notifier: notifier, logger: logger}
}

// CompileReport generates, parses, and stores the report for a
// session. All details must be collected first; preconditions are
// checked before any model call is made. Recompiling replaces the
// previous report.
func (c *Compiler) CompileReport(ctx context.Context, sessionID string) (*store.Report, error) {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, &StoreError{Op: "get session", Err: err}
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if !IsComplete(sess.Details) {
		return nil, ErrIncompleteDetails
	}

	prompt := prompts.Report(sess.Details, Transcript(sess.Messages))
	text, err := c.client.GenerateReport(ctx, prompt)
	if err != nil {
		return nil, &AdapterError{Op: "generate report", Err: err}
	}

	sections := parseReport(text)
	rep, err := c.store.CreateReport(sessionID, sections)
	if err != nil {
		return nil, &StoreError{Op: "create report", Err: err}
	}

	c.logger.Info("report compiled", "session_id", sessionID, "report_id", rep.ID)
	if c.notifier != nil {
		go c.notifier.ReportGenerated(rep)
	}
	return rep, nil
}

// sectionPlaceholders fill sections the model failed to produce, so a
// report is always fully populated.
var sectionPlaceholders = store.ReportSections{
	Summary:           "Project summary not available",
	Feasibility:       "Feasibility assessment not available",
	TechStack:         "Tech stack recommendations not available",
	Recommendations:   "Recommendations not available",
	RiskFactors:       "Risk factors not available",
	EstimatedCost:     "Estimated cost not available",
	EstimatedTimeline: "Estimated timeline not available",
}

// parseReport splits free-form model output into the seven named
// sections. It scans line by line: a line containing a known bold
// header switches the current section, every other line accumulates
// into it. Text before the first header is ignored; sections the model
// skipped get placeholder text.
func parseReport(text string) store.ReportSections {
	fields := map[string]*strings.Builder{}
	headers := []struct {
		marker string
		key    string
	}{
		{"**Summary**", "summary"},
		{"**Feasibility Assessment**", "feasibility"},
		{"**Recommended Tech Stack**", "tech_stack"},
		{"**Recommendations**", "recommendations"},
		{"**Risk Factors**", "risk_factors"},
		{"**Estimated Cost**", "estimated_cost"},
		{"**Estimated Timeline**", "estimated_timeline"},
	}
	for _, h := range headers {
		fields[h.key] = &strings.Builder{}
	}

	var current *strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		matched := false
		for _, h := range headers {
			if strings.Contains(line, h.marker) {
				current = fields[h.key]
				matched = true
				break
			}
		}
		if matched || current == nil {
			continue
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(line)
	}

	pick := func(key, placeholder string) string {
		if s := fields[key].String(); s != "" {
			return s
		}
		return placeholder
	}

	return store.ReportSections{
		Summary:           pick("summary", sectionPlaceholders.Summary),
		Feasibility:       pick("feasibility", sectionPlaceholders.Feasibility),
		TechStack:         pick("tech_stack", sectionPlaceholders.TechStack),
		Recommendations:   pick("recommendations", sectionPlaceholders.Recommendations),
		RiskFactors:       pick("risk_factors", sectionPlaceholders.RiskFactors),
		EstimatedCost:     pick("estimated_cost", sectionPlaceholders.EstimatedCost),
		EstimatedTimeline: pick("estimated_timeline", sectionPlaceholders.EstimatedTimeline),
	}
}
