package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/prospect-agent/prospect/internal/delivery"
	"github.com/prospect-agent/prospect/internal/store"
)

// ChatMessageRequest is one user utterance. A missing session_id starts
// a new session.
type ChatMessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
			return
		}
		sessionID = id.String()
	}

	result, err := s.processor.ProcessTurn(r.Context(), sessionID, req.Message, store.ChannelChat, "")
	if err != nil {
		s.mapIntakeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

// handleConversationStart creates a session up front and returns the
// welcome message, for clients that greet before the first user turn.
// The body is optional; an empty request gets a fresh chat session.
func (s *Server) handleConversationStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string        `json:"session_id"`
		Channel     store.Channel `json:"channel"`
		PhoneNumber string        `json:"phone_number"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.SessionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
			return
		}
		req.SessionID = id.String()
	}
	if req.Channel == "" {
		req.Channel = store.ChannelChat
	}

	sess, err := s.processor.StartSession(req.SessionID, req.Channel, req.PhoneNumber)
	if err != nil {
		s.mapIntakeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"session_id": sess.ID,
		"message":    sess.Messages[0].Content,
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		s.logger.Error("load session", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	if sess == nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sess, s.logger)
}

func (s *Server) handleReportCompile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.compiler.CompileReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapIntakeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, rep, s.logger)
}

// handleReportGet serves a compiled report as JSON, or as a standalone
// HTML page with ?format=html.
func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.loadReport(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := delivery.HTML(rep)
		if err != nil {
			s.logger.Error("render report html", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "render error")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(page)); err != nil {
			s.logger.Debug("failed to write HTML response", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rep, s.logger)
}

// handleReportQR serves a QR code PNG linking to the HTML report, for
// handing a phone caller their report.
func (s *Server) handleReportQR(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.loadReport(w, r)
	if !ok {
		return
	}

	base := s.reportBaseURL
	if base == "" {
		base = "http://" + r.Host
	}
	link := base + "/api/chat/report/" + rep.SessionID + "?format=html"

	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("encode qr", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "qr encoding error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("failed to write PNG response", "error", err)
	}
}

// ReportEmailRequest names the recipients for a report email.
type ReportEmailRequest struct {
	To []string `json:"to"`
}

func (s *Server) handleReportEmail(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.mailer == nil {
		s.errorResponse(w, http.StatusNotImplemented, "email delivery not configured")
		return
	}

	var req ReportEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.To) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "to addresses are required")
		return
	}
	for _, rcpt := range req.To {
		if strings.TrimSpace(rcpt) == "" {
			s.errorResponse(w, http.StatusBadRequest, "to addresses must not be blank")
			return
		}
	}

	rep, ok := s.loadReport(w, r)
	if !ok {
		return
	}

	if err := s.mailer.SendReport(r.Context(), req.To, rep); err != nil {
		s.logger.Error("send report email", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "email delivery failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "sent", "to": req.To}, s.logger)
}

// loadReport fetches the session's report, writing the error response
// itself when there is nothing to serve.
func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) (*store.Report, bool) {
	sess, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		s.logger.Error("load session", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return nil, false
	}
	if sess == nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if sess.Report == nil {
		s.errorResponse(w, http.StatusNotFound, "report not found")
		return nil, false
	}
	return sess.Report, true
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The chat widget is served from arbitrary client origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket runs the chat loop over a websocket: each inbound
// frame is a ChatMessageRequest, each outbound frame a TurnResult. The
// session sticks to the connection after the first message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var sessionID string
	for {
		var req ChatMessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			continue
		}

		if req.SessionID != "" {
			sessionID = req.SessionID
		}
		if sessionID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return
			}
			sessionID = id.String()
		}

		result, err := s.processor.ProcessTurn(r.Context(), sessionID, req.Message, store.ChannelChat, "")
		if err != nil {
			s.logger.Error("websocket turn failed", "session_id", sessionID, "error", err)
			if werr := conn.WriteJSON(map[string]string{"error": "internal error"}); werr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(result); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}
