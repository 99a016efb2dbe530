// Package api provides HTTP handlers for medirelay endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"github.com/anontaiwan/medirelay/internal/models"
)

// searchPatientHandler resolves a patient name to a LINE user id
// (POST /api/search-patient).
func (s *Server) searchPatientHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.searchPatientHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SearchPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.searchPatientHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON format"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		slog.Warn("Server.searchPatientHandler: patient name is empty")
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "Patient name is required"})
		return
	}

	userID, err := s.st.LookupPatient(name)
	if err != nil {
		slog.Error("Server.searchPatientHandler: lookup failed", "error", err, "patient", name)
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to look up patient"})
		return
	}
	if userID == "" {
		slog.Info("Server.searchPatientHandler: patient not found", "patient", name)
		writeJSONResponse(w, http.StatusNotFound, models.SearchPatientResult{
			Found:   false,
			Message: fmt.Sprintf("找不到患者 \"%s\"", name),
		})
		return
	}

	slog.Info("Server.searchPatientHandler: patient found", "patient", name, "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SearchPatientResult{
		Found:      true,
		Name:       name,
		LineUserID: userID,
	})
}

// webToBotHandler ingests a medication schedule from the web front end
// (POST /api/web-to-bot).
func (s *Server) webToBotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webToBotHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.WebToBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webToBotHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON or missing body"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.webToBotHandler: validation failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing user_id or query content"))
		return
	}
	slog.Debug("Server.webToBotHandler: processing schedule submission", "userID", req.UserID)

	entries, err := models.ParseScheduleQuery(req.Query)
	if err != nil {
		slog.Warn("Server.webToBotHandler: schedule payload unparsable", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to parse schedule data: "+err.Error()))
		return
	}

	// A roster entry without a valid schedule is an accepted inconsistency;
	// the dispatcher treats a missing schedule as empty.
	if err := s.st.AddRosterUser(req.UserID); err != nil {
		slog.Error("Server.webToBotHandler: failed to update roster", "error", err, "userID", req.UserID)
	}

	if err := s.st.SaveSchedule(req.UserID, entries); err != nil {
		slog.Error("Server.webToBotHandler: failed to save schedule", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save schedule data"))
		return
	}

	slog.Info("Server.webToBotHandler: schedule saved", "userID", req.UserID, "entries", len(entries))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Request processed and schedule saved", nil))
}

// callbackHandler receives LINE platform webhook events (POST /callback).
// Signature verification is owned by the SDK's request parser; nothing is
// mutated when verification fails.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.callbackHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bot == nil {
		slog.Error("Server.callbackHandler: LINE client not configured")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	events, err := s.bot.ParseRequest(r)
	if err != nil {
		if err == linebot.ErrInvalidSignature {
			slog.Warn("Server.callbackHandler: invalid webhook signature")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("Invalid signature"))
			return
		}
		slog.Warn("Server.callbackHandler: failed to parse webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, event := range events {
		if err := s.handleWebhookEvent(event); err != nil {
			slog.Error("Server.callbackHandler: failed to process event", "error", err, "type", event.Type)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleWebhookEvent advances the per-user registration state machine:
// a follow event enrolls the user as unregistered, and the first text message
// from an unregistered user registers them under the message text as the
// patient name. Messages from registered users are accepted and ignored.
func (s *Server) handleWebhookEvent(event *linebot.Event) error {
	if event.Source == nil || event.Source.UserID == "" {
		slog.Debug("Server.handleWebhookEvent: event without user source ignored", "type", event.Type)
		return nil
	}
	userID := event.Source.UserID

	switch event.Type {
	case linebot.EventTypeFollow:
		slog.Info("Server.handleWebhookEvent: new follower", "userID", userID)
		return s.st.MarkUnregistered(userID)
	case linebot.EventTypeMessage:
		message, ok := event.Message.(*linebot.TextMessage)
		if !ok {
			return nil
		}
		promoted, err := s.st.RegisterByMessage(userID, message.Text)
		if err != nil {
			return err
		}
		if promoted {
			slog.Info("Server.handleWebhookEvent: user registered", "userID", userID, "patient", message.Text)
		}
		return nil
	default:
		return nil
	}
}

// healthHandler provides a health check endpoint for monitoring (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if users, err := s.st.ListRosterUsers(); err != nil {
		slog.Warn("Server.healthHandler: store unreachable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to read roster"
		statusCode = http.StatusServiceUnavailable
	} else {
		healthData["roster_users"] = len(users)
	}

	writeJSONResponse(w, statusCode, healthData)
}
