// Package api implements the HTTP API for the intake agent: the chat
// endpoints, report retrieval and delivery, admin stats, and the voice
// webhook surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/prospect-agent/prospect/internal/buildinfo"
	"github.com/prospect-agent/prospect/internal/delivery"
	"github.com/prospect-agent/prospect/internal/intake"
	"github.com/prospect-agent/prospect/internal/store"
	"github.com/prospect-agent/prospect/internal/voice"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address        string
	port           int
	processor      *intake.Processor
	compiler       *intake.Compiler
	store          store.Store
	mailer         *delivery.Mailer
	transcriber    voice.Transcriber
	synthesizer    voice.Synthesizer
	reportBaseURL  string
	adminTokenHash string
	logger         *slog.Logger
	server         *http.Server
}

// NewServer creates the API server with the core intake wiring. The
// optional collaborators (mailer, voice, admin auth) are attached with
// the Set methods before Start.
func NewServer(address string, port int, processor *intake.Processor, compiler *intake.Compiler, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		processor: processor,
		compiler:  compiler,
		store:     st,
		logger:    logger,
	}
}

// SetMailer enables the report email endpoint.
func (s *Server) SetMailer(m *delivery.Mailer) {
	s.mailer = m
}

// SetVoice enables the voice webhook endpoints.
func (s *Server) SetVoice(t voice.Transcriber, synth voice.Synthesizer) {
	s.transcriber = t
	s.synthesizer = synth
}

// SetReportBaseURL sets the public base URL used in QR codes and links.
func (s *Server) SetReportBaseURL(base string) {
	s.reportBaseURL = strings.TrimRight(base, "/")
}

// SetAdminTokenHash protects the stats, session-listing and
// report-email endpoints with a bcrypt-hashed bearer token. An empty
// hash leaves them open.
func (s *Server) SetAdminTokenHash(hash string) {
	s.adminTokenHash = hash
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // model calls happen in-request
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler builds the full route table. Start wraps it in the listener;
// tests mount it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("POST /api/chat/message", s.handleChatMessage)
	mux.HandleFunc("POST /api/chat/conversation", s.handleConversationStart)
	mux.HandleFunc("GET /api/chat/conversation/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /api/chat/ws", s.handleWebSocket)

	// Report endpoints
	mux.HandleFunc("POST /api/chat/report/{id}", s.handleReportCompile)
	mux.HandleFunc("GET /api/chat/report/{id}", s.handleReportGet)
	mux.HandleFunc("GET /api/chat/report/{id}/qr", s.handleReportQR)
	mux.HandleFunc("POST /api/chat/report/{id}/email", s.handleReportEmail)

	// Admin
	mux.HandleFunc("GET /api/chat/stats", s.handleStats)
	mux.HandleFunc("GET /api/chat/sessions", s.handleSessions)

	// Voice webhooks and services
	mux.HandleFunc("POST /api/voice/webhook/answer", s.handleVoiceAnswer)
	mux.HandleFunc("POST /api/voice/webhook/gather", s.handleVoiceGather)
	mux.HandleFunc("POST /api/voice/webhook/finalize", s.handleVoiceFinalize)
	mux.HandleFunc("POST /api/voice/webhook/status", s.handleVoiceStatus)
	mux.HandleFunc("POST /api/voice/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/voice/tts", s.handleTTS)

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Prospect",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// handleStats reports session counts, protected by the admin token when
// one is configured.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	active, err := s.store.CountByStatus(store.StatusActive)
	if err != nil {
		s.logger.Error("count active sessions", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	completed, err := s.store.CountByStatus(store.StatusCompleted)
	if err != nil {
		s.logger.Error("count completed sessions", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	archived, err := s.store.CountByStatus(store.StatusArchived)
	if err != nil {
		s.logger.Error("count archived sessions", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]int{
		"total":     active + completed + archived,
		"active":    active,
		"completed": completed,
		"archived":  archived,
	}, s.logger)
}

// handleSessions lists every session for admin tooling, newest activity
// first, without transcripts or reports.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := s.store.ListSessions()
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	}, s.logger)
}

// authorizeAdmin checks the bearer token against the configured bcrypt
// hash. With no hash configured the check passes.
func (s *Server) authorizeAdmin(r *http.Request) bool {
	if s.adminTokenHash == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.adminTokenHash), []byte(token)) == nil
}

// mapIntakeError translates intake errors to HTTP responses.
func (s *Server) mapIntakeError(w http.ResponseWriter, err error) {
	var aerr *intake.AdapterError
	var serr *intake.StoreError
	switch {
	case errors.Is(err, intake.ErrSessionNotFound):
		s.errorResponse(w, http.StatusNotFound, "session not found")
	case errors.Is(err, intake.ErrReportNotFound):
		s.errorResponse(w, http.StatusNotFound, "report not found")
	case errors.Is(err, intake.ErrIncompleteDetails):
		s.errorResponse(w, http.StatusConflict, "project details incomplete")
	case errors.As(err, &aerr):
		s.logger.Error("model adapter failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "model provider error")
	case errors.As(err, &serr):
		s.logger.Error("storage failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
	default:
		s.logger.Error("request failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
