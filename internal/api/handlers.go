package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lexbr/intakeflow/internal/models"
	"github.com/lexbr/intakeflow/internal/util"
	"github.com/lexbr/intakeflow/internal/whatsapp"
)

// chatMessageHandler handles POST /chat/message, the web chat entry point.
// The body it returns is the conversation response itself rather than the
// management envelope, since chat clients consume its fields directly.
func (s *Server) chatMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatMessageHandler: processing chat message", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatMessageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatMessageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.SessionID == "" {
		req.SessionID = util.GenerateSessionID()
		slog.Debug("Server.chatMessageHandler: generated session id", "sessionID", req.SessionID)
	}

	resp := s.orchestrator.ProcessMessage(r.Context(), req.Message, req.SessionID, req.PhoneNumber, models.PlatformWeb)
	slog.Info("Server.chatMessageHandler: message processed", "sessionID", req.SessionID, "responseType", resp.ResponseType)
	writeJSONResponse(w, http.StatusOK, resp)
}

// phoneSubmissionHandler handles POST /chat/phone, the web-form phone
// submission for sessions that collect phone out-of-band.
func (s *Server) phoneSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.phoneSubmissionHandler: processing phone submission", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.phoneSubmissionHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.PhoneSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.phoneSubmissionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.phoneSubmissionHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.orchestrator.HandlePhoneSubmission(r.Context(), req.PhoneNumber, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			slog.Warn("Server.phoneSubmissionHandler: session not found", "sessionID", req.SessionID)
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		case errors.Is(err, models.ErrInvalidPhone):
			slog.Warn("Server.phoneSubmissionHandler: invalid phone number", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		default:
			slog.Error("Server.phoneSubmissionHandler: submission failed", "error", err, "sessionID", req.SessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process phone submission"))
		}
		return
	}

	slog.Info("Server.phoneSubmissionHandler: phone recorded", "sessionID", req.SessionID, "phone", result.PhoneNumber)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Phone number recorded", result))
}

// whatsappAuthorizeHandler handles POST /whatsapp/authorize, triggered by
// the WhatsApp contact button. It always recreates the session.
func (s *Server) whatsappAuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.whatsappAuthorizeHandler: processing authorization", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.whatsappAuthorizeHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.WhatsAppAuthorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.whatsappAuthorizeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.whatsappAuthorizeHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	canonicalPhone, err := s.msgService.ValidateAndCanonicalizeRecipient(req.PhoneNumber)
	if err != nil {
		slog.Warn("Server.whatsappAuthorizeHandler: phone validation failed", "error", err, "phone", req.PhoneNumber)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}

	sess, err := s.orchestrator.HandleWhatsAppAuthorization(r.Context(), req.SessionID, canonicalPhone, req.Source)
	if err != nil {
		slog.Error("Server.whatsappAuthorizeHandler: authorization failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to authorize WhatsApp session"))
		return
	}

	slog.Info("Server.whatsappAuthorizeHandler: session authorized", "sessionID", sess.SessionID, "source", sess.Source)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("WhatsApp session authorized", sess))
}

// whatsappWebhookHandler handles POST /whatsapp/webhook, the JSON webhook
// posted by the WhatsApp bridge for inbound text messages. It processes the
// message and replies to the sender over the messaging transport; reply
// delivery failures are logged but do not fail the webhook.
func (s *Server) whatsappWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.whatsappWebhookHandler: processing webhook", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.whatsappWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.WebhookMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.whatsappWebhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.whatsappWebhookHandler: invalid payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	phone := strings.TrimSuffix(req.From, "@"+whatsapp.JIDSuffix)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "whatsapp_" + phone
	}

	slog.Info("Server.whatsappWebhookHandler: processing message", "messageID", req.MessageID, "from", phone, "sessionID", sessionID)
	resp := s.orchestrator.ProcessMessage(r.Context(), req.Message, sessionID, phone, models.PlatformWhatsApp)

	if err := s.msgService.SendMessage(r.Context(), phone, resp.Response); err != nil {
		slog.Error("Server.whatsappWebhookHandler: failed to deliver reply", "error", err, "to", phone)
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// whatsappSendHandler handles POST /whatsapp/send, the manual outbound send
// endpoint used by operators.
func (s *Server) whatsappSendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.whatsappSendHandler: processing send request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.whatsappSendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.whatsappSendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.whatsappSendHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.PhoneNumber)
	if err != nil {
		slog.Warn("Server.whatsappSendHandler: recipient validation failed", "error", err, "original_to", req.PhoneNumber)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), canonicalTo, req.Message); err != nil {
		slog.Error("Server.whatsappSendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.whatsappSendHandler: message sent", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// sessionHandler handles GET and DELETE on /sessions/{id}.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		slog.Debug("Server.sessionHandler: fetching session context", "sessionID", sessionID)
		sessCtx, err := s.orchestrator.GetSessionContext(sessionID)
		if err != nil {
			slog.Error("Server.sessionHandler: failed to load session", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
			return
		}
		if !sessCtx.Exists {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(sessCtx))
	case http.MethodDelete:
		slog.Debug("Server.sessionHandler: resetting session", "sessionID", sessionID)
		if err := s.orchestrator.ResetSession(sessionID); err != nil {
			slog.Error("Server.sessionHandler: failed to reset session", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset session"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		slog.Warn("Server.sessionHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// statusHandler handles GET /status with the aggregate service health report.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.orchestrator.Status()))
}

// healthHandler handles GET /health for liveness checks.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Service is healthy", nil))
}
