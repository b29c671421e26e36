package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/prospect-agent/prospect/internal/config"
	"github.com/prospect-agent/prospect/internal/store"
)

// Mailer sends compiled reports over SMTP.
type Mailer struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewMailer creates a report mailer.
func NewMailer(cfg config.EmailConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// SendReport composes the report as a multipart/alternative message and
// delivers it to every recipient in a single send.
func (m *Mailer) SendReport(ctx context.Context, to []string, rep *store.Report) error {
	msg, err := composeReportMessage(m.cfg.From, to, rep)
	if err != nil {
		return err
	}

	if err := sendMail(ctx, m.cfg.SMTP, m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	m.logger.Info("report emailed", "session_id", rep.SessionID, "to", to)
	return nil
}

// composeReportMessage builds a complete RFC 5322 message with plain
// text and HTML alternatives of the report.
func composeReportMessage(from string, to []string, rep *store.Report) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject("Your Project Feasibility Report")

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, rcpt := range to {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			return nil, fmt.Errorf("parse to address %q: %w", rcpt, err)
		}
		toAddrs = append(toAddrs, addr)
	}
	h.SetAddressList("To", toAddrs)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	htmlBody, err := HTML(rep)
	if err != nil {
		return nil, err
	}

	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, fmt.Errorf("create plain text part: %w", err)
	}
	if _, err := io.WriteString(pw, PlainText(htmlBody)); err != nil {
		return nil, fmt.Errorf("write plain text: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close plain text part: %w", err)
	}

	var hh mail.InlineHeader
	hh.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := tw.CreatePart(hh)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, htmlBody); err != nil {
		return nil, fmt.Errorf("write html: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}

	return buf.Bytes(), nil
}
