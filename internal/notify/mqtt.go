// Package notify publishes session milestone events to an MQTT broker
// so downstream tooling (dashboards, CRM hooks) can react without
// polling the API.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/prospect-agent/prospect/internal/config"
	"github.com/prospect-agent/prospect/internal/store"
)

// publishTimeout bounds each best-effort event publish.
const publishTimeout = 10 * time.Second

// Publisher maintains the broker connection and publishes milestone
// events. All publishes are best-effort: failures are logged, never
// returned to the intake flow.
type Publisher struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to establish the connection.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// Start connects to the broker and returns once the connection manager
// is running. autopaho reconnects in the background; an initial
// connection timeout is logged, not fatal.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "prospect-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// SessionCompleted publishes a completion event for the session.
func (p *Publisher) SessionCompleted(sess *store.Session) {
	payload, err := json.Marshal(sessionCompletedEvent{
		SessionID:   sess.ID,
		Channel:     string(sess.Channel),
		Details:     sess.Details,
		CompletedAt: sess.UpdatedAt,
	})
	if err != nil {
		p.logger.Error("mqtt marshal completion event", "session_id", sess.ID, "error", err)
		return
	}
	p.publishEvent(p.eventTopic("session/completed"), payload)
}

// ReportGenerated publishes a report availability event.
func (p *Publisher) ReportGenerated(rep *store.Report) {
	payload, err := json.Marshal(reportGeneratedEvent{
		SessionID:   rep.SessionID,
		ReportID:    rep.ID,
		GeneratedAt: rep.CreatedAt,
	})
	if err != nil {
		p.logger.Error("mqtt marshal report event", "session_id", rep.SessionID, "error", err)
		return
	}
	p.publishEvent(p.eventTopic("report/generated"), payload)
}

type sessionCompletedEvent struct {
	SessionID   string               `json:"session_id"`
	Channel     string               `json:"channel"`
	Details     store.ProjectDetails `json:"details"`
	CompletedAt time.Time            `json:"completed_at"`
}

type reportGeneratedEvent struct {
	SessionID   string    `json:"session_id"`
	ReportID    string    `json:"report_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (p *Publisher) publishEvent(topic string, payload []byte) {
	if p.cm == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt event publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt event published", "topic", topic)
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) baseTopic() string {
	return "prospect/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) eventTopic(event string) string {
	return p.baseTopic() + "/" + event
}
