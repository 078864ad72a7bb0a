package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atelier/api/internal/auth"
	"atelier/api/internal/collab"
	"atelier/api/internal/export"
	"atelier/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	collabWS   http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// SetCollabHandler installs the WebSocket endpoint served at /api/collab.
func (s *HTTPServer) SetCollabHandler(h http.Handler) {
	s.collabWS = h
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		identity, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     identity.Token,
			"userId":    identity.UserID,
			"userName":  identity.UserName,
			"expiresAt": identity.ExpiresAt,
		})
		return
	}

	if r.URL.Path == "/api/collab" {
		if s.collabWS == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.collabWS.ServeHTTP(w, r)
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) >= 2 && segments[0] == "api" && segments[1] == "sessions" {
		s.handleSessions(w, r, segments[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingInvites(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["invites"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleSessions routes everything under /api/sessions. Every route except
// listing and reading requires a bearer token.
func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, rest []string) {
	identity, authed := s.identity(r)

	// /api/sessions
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.handleListSessions(w, r)
		case http.MethodPost:
			if !authed {
				writeUnauthorized(w)
				return
			}
			var body CreateSessionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			snapshot, err := s.service.CreateSession(r.Context(), identity, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, snapshot)
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	sessionID := rest[0]
	rest = rest[1:]

	// /api/sessions/{id}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			snapshot, err := s.service.GetSession(r.Context(), sessionID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snapshot)
		case http.MethodDelete:
			if !authed {
				writeUnauthorized(w)
				return
			}
			if err := s.service.DeleteSession(r.Context(), identity, sessionID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	action := rest[0]
	rest = rest[1:]

	if !authed && !(r.Method == http.MethodGet && readOnlyAction(action)) {
		writeUnauthorized(w)
		return
	}

	switch {
	case action == "settings" && r.Method == http.MethodPut && len(rest) == 0:
		var body SettingsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		settings, err := s.service.UpdateSettings(r.Context(), identity, sessionID, &body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case action == "join" && r.Method == http.MethodPost && len(rest) == 0:
		var body struct {
			InviteToken string `json:"inviteToken"`
		}
		_ = decodeBody(r, &body)
		snapshot, err := s.service.Join(r.Context(), identity, sessionID, body.InviteToken)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	case action == "leave" && r.Method == http.MethodPost && len(rest) == 0:
		if err := s.service.Leave(r.Context(), identity, sessionID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case action == "invite" && r.Method == http.MethodPost && len(rest) == 0:
		var body InviteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token, err := s.service.Invite(r.Context(), identity, sessionID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"inviteToken": token})

	case action == "participants":
		s.handleParticipants(w, r, identity, sessionID, rest)

	case action == "pause" && r.Method == http.MethodPost && len(rest) == 0:
		if err := s.service.Pause(r.Context(), identity, sessionID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": collab.StatusPaused})

	case action == "resume" && r.Method == http.MethodPost && len(rest) == 0:
		if err := s.service.Resume(r.Context(), identity, sessionID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": collab.StatusActive})

	case action == "save" && r.Method == http.MethodPost && len(rest) == 0:
		var body struct {
			Summary string `json:"summary"`
		}
		_ = decodeBody(r, &body)
		version, err := s.service.SaveVersion(r.Context(), identity, sessionID, body.Summary)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, version.Meta())

	case action == "publish" && r.Method == http.MethodPost && len(rest) == 0:
		payload, err := s.service.Publish(r.Context(), identity, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case action == "versions":
		s.handleVersions(w, r, identity, sessionID, rest)

	case action == "comments":
		s.handleComments(w, r, identity, sessionID, rest)

	case action == "history" && r.Method == http.MethodGet && len(rest) == 0:
		limit := queryInt(r, "limit", 20)
		records, err := s.service.ArtifactHistory(sessionID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": records})

	case action == "export" && r.Method == http.MethodGet && len(rest) == 0:
		s.handleExport(w, r, sessionID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func readOnlyAction(action string) bool {
	switch action {
	case "versions", "comments", "participants", "history", "export":
		return true
	}
	return false
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		response, err := s.service.Search(r.Context(), search.Query{
			Text:       q,
			FilterType: search.ResultType(r.URL.Query().Get("type")),
			Limit:      queryInt(r, "limit", 20),
			Offset:     queryInt(r, "offset", 0),
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	summaries := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, map[string]any{
			"id":             sess.ID,
			"name":           sess.Name,
			"description":    sess.Description,
			"artifactType":   sess.ArtifactType,
			"status":         sess.Status,
			"participants":   len(sess.Participants),
			"versions":       len(sess.Versions),
			"createdAt":      sess.CreatedAt,
			"lastActivityAt": sess.LastActivityAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *HTTPServer) handleParticipants(w http.ResponseWriter, r *http.Request, identity Identity, sessionID string, rest []string) {
	// GET /api/sessions/{id}/participants
	if len(rest) == 0 && r.Method == http.MethodGet {
		participants, online, err := s.service.Participants(r.Context(), sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"participants": participants, "online": online})
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	targetID := rest[0]

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		participant, err := s.service.ChangeRole(r.Context(), identity, sessionID, targetID, body.Role)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, participant)
	case http.MethodDelete:
		if err := s.service.RemoveParticipant(r.Context(), identity, sessionID, targetID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, identity Identity, sessionID string, rest []string) {
	// GET /api/sessions/{id}/versions
	if len(rest) == 0 && r.Method == http.MethodGet {
		versions, err := s.service.Versions(r.Context(), sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
		return
	}

	// POST /api/sessions/{id}/versions/{n}/restore
	if len(rest) == 2 && rest[1] == "restore" && r.Method == http.MethodPost {
		number, err := strconv.Atoi(rest[0])
		if err != nil || number < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "version number must be a positive integer", nil)
			return
		}
		version, err := s.service.RestoreVersion(r.Context(), identity, sessionID, number)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, version.Meta())
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, identity Identity, sessionID string, rest []string) {
	// /api/sessions/{id}/comments
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			comments, err := s.service.ListComments(r.Context(), sessionID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
		case http.MethodPost:
			var body CommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.AddComment(r.Context(), identity, sessionID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, comment)
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	commentID := rest[0]
	rest = rest[1:]

	// /api/sessions/{id}/comments/{commentId}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.UpdateComment(r.Context(), identity, sessionID, commentID, body.Content)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, comment)
		case http.MethodDelete:
			if err := s.service.DeleteComment(r.Context(), identity, sessionID, commentID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	switch {
	case rest[0] == "resolve" && r.Method == http.MethodPost && len(rest) == 1:
		comment, err := s.service.ResolveComment(r.Context(), identity, sessionID, commentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)

	case rest[0] == "replies" && r.Method == http.MethodPost && len(rest) == 1:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.service.AddReply(r.Context(), identity, sessionID, commentID, body.Content)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, reply)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sessionID string) {
	format := export.Format(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatJSON
	}

	result, err := s.service.Export(r.Context(), sessionID, format)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrUnknownFormat):
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "unknown export format", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing):
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
		default:
			writeMappedError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) identity(r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, false
	}
	identity, err := s.service.IdentityFromToken(token)
	if err != nil {
		return Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, collab.ErrNotExist) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
