package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osuTitanic/keel/internal/rbac"
	"github.com/osuTitanic/keel/internal/status"
	"github.com/osuTitanic/keel/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			ready = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     ready == "ready",
			"status": ready,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "beatmapsets" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	setID, err := strconv.Atoi(parts[2])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "beatmapset id must be an integer", nil)
		return
	}

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		set, err := s.service.GetBeatmapset(r.Context(), setID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, beatmapsetPayload(set))
		return
	}

	switch parts[3] {
	case "status":
		s.handleStatus(w, r, setID, parts)
	case "nominations":
		s.handleNominations(w, r, setID, parts)
	case "kudosu":
		s.handleKudosu(w, r, setID, parts)
	case "nuke":
		s.handleNuke(w, r, setID, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request, setID int, parts []string) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPatch {
		raw := strings.TrimSpace(r.URL.Query().Get("status"))
		if raw == "" {
			var body struct {
				Status *int `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Status == nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status is required", nil)
				return
			}
			raw = strconv.Itoa(*body.Status)
		}
		target, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be an integer", nil)
			return
		}

		set, err := s.service.SetStatus(r.Context(), setID, status.Status(target), actor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, beatmapsetPayload(set))
		return
	}

	if len(parts) == 5 && parts[4] == "beatmaps" && r.Method == http.MethodPatch {
		var body map[string]int
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}

		updates := make(map[int]status.Status, len(body))
		for key, value := range body {
			beatmapID, err := strconv.Atoi(key)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "beatmap ids must be integers", nil)
				return
			}
			updates[beatmapID] = status.Status(value)
		}

		set, err := s.service.SetBeatmapStatuses(r.Context(), setID, updates, actor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, beatmapsetPayload(set))
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleNominations(w http.ResponseWriter, r *http.Request, setID int, parts []string) {
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if r.Method == http.MethodGet {
		items, err := s.service.ListNominations(r.Context(), setID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, nominationPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"nominations": payload})
		return
	}

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost {
		nomination, err := s.service.Nominate(r.Context(), setID, actor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, nominationPayload(nomination))
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.ResetNominations(r.Context(), setID, actor); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleKudosu(w http.ResponseWriter, r *http.Request, setID int, parts []string) {
	if len(parts) == 4 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		items, err := s.service.ListKudosu(r.Context(), setID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, kudosuPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"kudosu": payload})
		return
	}

	postID, err := strconv.Atoi(parts[4])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "post id must be an integer", nil)
		return
	}

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	if len(parts) == 5 && r.Method == http.MethodPost {
		entry, err := s.service.RewardKudosu(r.Context(), setID, postID, actor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, kudosuPayload(entry))
		return
	}

	if len(parts) == 5 && r.Method == http.MethodDelete {
		entry, err := s.service.RevokeKudosu(r.Context(), setID, postID, actor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, kudosuPayload(entry))
		return
	}

	if len(parts) == 6 && parts[5] == "reset" && r.Method == http.MethodPost {
		if err := s.service.ResetKudosu(r.Context(), setID, postID, actor); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleNuke(w http.ResponseWriter, r *http.Request, setID int, parts []string) {
	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	set, err := s.service.Nuke(r.Context(), setID, actor)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beatmapsetPayload(set))
}

// requireActor reads the caller identity placed on the request by the
// upstream gateway. Requests without one are rejected.
func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	rawID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if rawID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Actor{}, false
	}
	userID, err := strconv.Atoi(rawID)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Actor{}, false
	}
	return Actor{
		ID:   userID,
		Name: strings.TrimSpace(r.Header.Get("X-User-Name")),
		Role: rbac.Normalize(strings.TrimSpace(r.Header.Get("X-User-Role"))),
	}, true
}

func beatmapsetPayload(set store.Beatmapset) map[string]any {
	beatmaps := make([]map[string]any, 0, len(set.Beatmaps))
	for _, beatmap := range set.Beatmaps {
		beatmaps = append(beatmaps, map[string]any{
			"id":      beatmap.ID,
			"mode":    beatmap.Mode,
			"status":  beatmap.Status,
			"version": beatmap.Version,
		})
	}
	payload := map[string]any{
		"id":            set.ID,
		"title":         set.Title,
		"artist":        set.Artist,
		"creator":       set.Creator,
		"creator_id":    set.CreatorID,
		"status":        set.Status,
		"star_priority": set.StarPriority,
		"beatmaps":      beatmaps,
	}
	if set.TopicID != nil {
		payload["topic_id"] = *set.TopicID
	}
	if set.ApprovedAt != nil {
		payload["approved_at"] = set.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if set.ApprovedBy != nil {
		payload["approved_by"] = *set.ApprovedBy
	}
	return payload
}

func nominationPayload(nomination store.Nomination) map[string]any {
	return map[string]any{
		"set_id":  nomination.SetID,
		"user_id": nomination.UserID,
		"time":    nomination.Time.UTC().Format(time.RFC3339),
	}
}

func kudosuPayload(entry store.KudosuEntry) map[string]any {
	return map[string]any{
		"id":        entry.ID,
		"target_id": entry.TargetID,
		"sender_id": entry.SenderID,
		"set_id":    entry.SetID,
		"post_id":   entry.PostID,
		"amount":    entry.Amount,
		"time":      entry.Time.UTC().Format(time.RFC3339),
	}
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

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-Id, X-User-Name, X-User-Role")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
