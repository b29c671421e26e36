package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prospect-agent/prospect/internal/intake"
	"github.com/prospect-agent/prospect/internal/prompts"
	"github.com/prospect-agent/prospect/internal/store"
)

// reprompt is spoken when the caller's speech was not recognized.
const reprompt = "I didn't catch that. Could you please repeat what you said?"

// jambonzVerb is one instruction in a Jambonz webhook response. Only
// the fields the intake flow uses are modeled.
type jambonzVerb struct {
	Verb       string   `json:"verb"`
	Text       string   `json:"text,omitempty"`
	Input      []string `json:"input,omitempty"`
	ActionHook string   `json:"actionHook,omitempty"`
	Timeout    int      `json:"timeout,omitempty"`
}

// jambonzCall is the webhook payload subset the handlers read.
type jambonzCall struct {
	CallSID string `json:"call_sid"`
	From    string `json:"from"`
	Speech  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"speech"`
	CallStatus string `json:"call_status"`
}

// voiceSessionID scopes voice sessions by call so a caller's second
// call starts fresh.
func voiceSessionID(callSID string) string {
	return "voice_" + callSID
}

// gatherVerbs says text and then listens for the caller's next
// utterance.
func gatherVerbs(text string) []jambonzVerb {
	return []jambonzVerb{
		{Verb: "say", Text: text},
		{
			Verb:       "gather",
			Input:      []string{"speech"},
			ActionHook: "/api/voice/webhook/gather",
			Timeout:    10,
		},
	}
}

// handleVoiceAnswer greets the caller and starts listening.
func (s *Server) handleVoiceAnswer(w http.ResponseWriter, r *http.Request) {
	var call jambonzCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	sessionID := voiceSessionID(call.CallSID)
	if _, err := s.processor.StartSession(sessionID, store.ChannelVoice, call.From); err != nil {
		s.logger.Error("start voice session", "call_sid", call.CallSID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("call answered", "call_sid", call.CallSID, "from", call.From)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, gatherVerbs(prompts.Welcome), s.logger)
}

// handleVoiceGather processes one spoken turn. An empty or unrecognized
// utterance gets a re-prompt; a turn that completes the intake asks the
// caller how to deliver the report and routes the answer to the
// finalize hook.
func (s *Server) handleVoiceGather(w http.ResponseWriter, r *http.Request) {
	var call jambonzCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var transcript string
	if len(call.Speech.Alternatives) > 0 {
		transcript = strings.TrimSpace(call.Speech.Alternatives[0].Transcript)
	}
	if transcript == "" {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, gatherVerbs(reprompt), s.logger)
		return
	}

	sessionID := voiceSessionID(call.CallSID)
	result, err := s.processor.ProcessTurn(r.Context(), sessionID, transcript, store.ChannelVoice, call.From)
	if err != nil {
		s.logger.Error("voice turn failed", "call_sid", call.CallSID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Status == store.StatusCompleted {
		writeJSON(w, confirmVerbs(result.Reply), s.logger)
		return
	}
	writeJSON(w, gatherVerbs(result.Reply), s.logger)
}

// confirmVerbs tells the caller the intake is done and listens for a
// delivery preference, which the finalize hook acts on.
func confirmVerbs(reply string) []jambonzVerb {
	text := reply + " Great! I have all the information I need. I'll generate a comprehensive report for you. Would you like me to send it to your email?"
	return []jambonzVerb{
		{Verb: "say", Text: text},
		{
			Verb:       "gather",
			Input:      []string{"speech"},
			ActionHook: "/api/voice/webhook/finalize",
			Timeout:    10,
		},
	}
}

// handleVoiceFinalize compiles the report for a finished call and hangs
// up with delivery instructions. A compile failure is logged, not
// spoken; the caller still gets a clean goodbye and the report can be
// compiled again later over HTTP.
func (s *Server) handleVoiceFinalize(w http.ResponseWriter, r *http.Request) {
	var call jambonzCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	sessionID := voiceSessionID(call.CallSID)
	if _, err := s.compiler.CompileReport(r.Context(), sessionID); err != nil {
		s.logger.Error("voice report compile failed", "call_sid", call.CallSID, "error", err)
	}

	var answer string
	if len(call.Speech.Alternatives) > 0 {
		answer = call.Speech.Alternatives[0].Transcript
	}

	closing := "Thank you for sharing your project details with me. I've generated a comprehensive report with feasibility assessment and tech recommendations. "
	lower := strings.ToLower(answer)
	if strings.Contains(lower, "email") || strings.Contains(lower, "send") {
		closing += "I'll send the report to your email address. Have a great day!"
	} else {
		closing += "You can access your report through our web interface. Have a great day!"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, []jambonzVerb{
		{Verb: "say", Text: closing},
		{Verb: "hangup"},
	}, s.logger)
}

// handleVoiceStatus receives call lifecycle notifications.
func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	var call jambonzCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	s.logger.Info("call status", "call_sid", call.CallSID, "status", call.CallStatus)
	w.WriteHeader(http.StatusNoContent)
}

// TranscribeRequest points at recorded audio to run through a session.
type TranscribeRequest struct {
	AudioURL    string `json:"audio_url"`
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number"`
}

// TranscribeResult is a processed turn plus what the caller was heard
// to say.
type TranscribeResult struct {
	Transcript string `json:"transcript"`
	*intake.TurnResult
}

// handleTranscribe fetches recorded audio, transcribes it, and runs the
// text through the session as a normal voice turn.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		s.errorResponse(w, http.StatusNotImplemented, "transcription not configured")
		return
	}

	var req TranscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AudioURL == "" || req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "audio_url and session_id are required")
		return
	}

	text, err := s.transcriber.TranscribeURL(r.Context(), req.AudioURL)
	if err != nil {
		s.logger.Error("transcription failed", "session_id", req.SessionID, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "transcription failed")
		return
	}

	result, err := s.processor.ProcessTurn(r.Context(), req.SessionID, text, store.ChannelVoice, req.PhoneNumber)
	if err != nil {
		s.mapIntakeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, TranscribeResult{Transcript: text, TurnResult: result}, s.logger)
}

// TTSRequest is the synthesis request body.
type TTSRequest struct {
	Text string `json:"text"`
}

// handleTTS converts text to WAV audio.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.synthesizer == nil {
		s.errorResponse(w, http.StatusNotImplemented, "synthesis not configured")
		return
	}

	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.synthesizer.Synthesize(r.Context(), req.Text)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "synthesis failed")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	// Lets the telephony side size play timeouts before decoding the WAV.
	w.Header().Set("X-Speech-Duration", s.synthesizer.EstimateDuration(req.Text).String())
	if _, err := w.Write(audio); err != nil {
		s.logger.Debug("failed to write audio response", "error", err)
	}
}
