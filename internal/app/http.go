package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trailmap/api/internal/auth"
	"trailmap/api/internal/authpw"
	"trailmap/api/internal/search"
	"trailmap/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"profileId":     session.ProfileID,
			"displayName":   session.DisplayName,
			"isGuest":       session.IsGuest,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/guest/session" {
		sessionID := strings.TrimSpace(r.Header.Get("X-Guest-Session"))
		if sessionID == "" {
			var body struct {
				SessionID string `json:"sessionId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			sessionID = strings.TrimSpace(body.SessionID)
		}
		session, created, err := s.service.GuestSession(r.Context(), sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"profileId":    session.ProfileID,
			"displayName":  session.DisplayName,
			"isGuest":      true,
			"created":      created,
			"expiresAt":    session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/guest/session" {
		sessionID := strings.TrimSpace(r.Header.Get("X-Guest-Session"))
		if sessionID == "" {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "X-Guest-Session header is required", nil)
			return
		}
		profile, err := s.service.LookupGuest(r.Context(), sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profileId":   profile.ID,
			"displayName": profile.DisplayName,
			"isGuest":     true,
			"createdAt":   profile.CreatedAt,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"profileId":    session.ProfileID,
			"displayName":  session.DisplayName,
			"expiresAt":    session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/guests/cleanup" {
		syncToken := strings.TrimSpace(r.Header.Get("x-trailmap-sync-token"))
		if syncToken == "" || syncToken != s.service.SyncToken() {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		removed, err := s.service.CleanupGuests(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
		return
	}

	// Public share links: authentication is optional, a bearer token
	// only upgrades the viewer's role.
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/shared/") {
		token := strings.TrimPrefix(r.URL.Path, "/api/shared/")
		if token != "" && !strings.Contains(token, "/") {
			var viewer *Session
			if bearer := bearerToken(r); bearer != "" {
				if parsed, err := s.service.SessionFromToken(r.Context(), bearer); err == nil {
					viewer = &parsed
				}
			}
			payload, err := s.service.ResolveShare(r.Context(), token, viewer)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/migrate" {
		var body struct {
			GuestSessionID string `json:"guestSessionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.GuestSessionID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "guestSessionId is required", nil)
			return
		}
		report, err := s.service.Migrate(r.Context(), body.GuestSessionID, session.ProfileID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/shared-with-me" {
		payload, err := s.service.SharedWithMe(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shared": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}

		payload, err := s.service.SearchEntities(r.Context(), session, search.Query{
			Text:       q,
			FilterType: search.ResultType(filterType),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/roadmaps" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.Preview(r.Context(), session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roadmaps": payload})
			return
		case http.MethodPost:
			var body RoadmapInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			roadmap, err := s.service.CreateRoadmap(r.Context(), session, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, roadmapPayload(roadmap))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "roadmaps":
		s.handleRoadmap(w, r, session, parts[2:])
		return
	case "milestones":
		s.handleMilestone(w, r, session, parts[2:])
		return
	case "epics":
		s.handleEpic(w, r, session, parts[2:])
		return
	case "features":
		s.handleFeature(w, r, session, parts[2:])
		return
	case "tasks":
		s.handleTask(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleRoadmap dispatches /api/roadmaps/{id}... with the id and any
// trailing segments in parts.
func (s *HTTPServer) handleRoadmap(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	roadmapID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.Full(r.Context(), session, roadmapID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPut:
			var body RoadmapInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			roadmap, err := s.service.UpdateRoadmap(r.Context(), session, roadmapID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, roadmapPayload(roadmap))
			return
		case http.MethodDelete:
			if err := s.service.DeleteRoadmap(r.Context(), session, roadmapID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "share" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetShare(r.Context(), session, roadmapID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPut:
			var body ShareInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpsertShare(r.Context(), session, roadmapID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.RevokeShare(r.Context(), session, roadmapID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "milestones" && r.Method == http.MethodPost {
		var body MilestoneInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		milestone, err := s.service.CreateMilestone(r.Context(), session, roadmapID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, milestonePayload(milestone))
		return
	}

	if len(parts) == 3 && parts[1] == "milestones" && parts[2] == "reorder" && r.Method == http.MethodPost {
		s.handleBulkReorder(w, r, session, "milestone", roadmapID)
		return
	}

	if len(parts) == 2 && parts[1] == "epics" && r.Method == http.MethodPost {
		var body EpicInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		epic, err := s.service.CreateEpic(r.Context(), session, roadmapID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, epicPayload(epic))
		return
	}

	if len(parts) == 3 && parts[1] == "epics" && parts[2] == "reorder" && r.Method == http.MethodPost {
		s.handleBulkReorder(w, r, session, "epic", roadmapID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMilestone(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	milestoneID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body MilestoneInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			milestone, err := s.service.UpdateMilestone(r.Context(), session, milestoneID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, milestonePayload(milestone))
			return
		case http.MethodDelete:
			if err := s.service.DeleteMilestone(r.Context(), session, milestoneID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "reposition" && r.Method == http.MethodPost {
		s.handleReposition(w, r, session, "milestone", milestoneID)
		return
	}

	if len(parts) == 2 && parts[1] == "features" && r.Method == http.MethodPost {
		var body struct {
			FeatureID string `json:"featureId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.FeatureID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "featureId is required", nil)
			return
		}
		link, err := s.service.LinkFeature(r.Context(), session, milestoneID, body.FeatureID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"milestoneId": link.MilestoneID,
			"featureId":   link.FeatureID,
			"position":    link.Position,
		})
		return
	}

	if len(parts) == 3 && parts[1] == "features" && r.Method == http.MethodDelete {
		if err := s.service.UnlinkFeature(r.Context(), session, milestoneID, parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[1] == "features" && parts[3] == "reposition" && r.Method == http.MethodPost {
		position, ok := decodePosition(w, r)
		if !ok {
			return
		}
		result, err := s.service.RepositionLink(r.Context(), session, milestoneID, parts[2], position)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEpic(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	epicID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body EpicInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			epic, err := s.service.UpdateEpic(r.Context(), session, epicID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, epicPayload(epic))
			return
		case http.MethodDelete:
			if err := s.service.DeleteEpic(r.Context(), session, epicID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "reposition" && r.Method == http.MethodPost {
		s.handleReposition(w, r, session, "epic", epicID)
		return
	}

	if len(parts) == 2 && parts[1] == "features" && r.Method == http.MethodPost {
		var body FeatureInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		feature, err := s.service.CreateFeature(r.Context(), session, epicID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, featurePayload(feature))
		return
	}

	if len(parts) == 3 && parts[1] == "features" && parts[2] == "reorder" && r.Method == http.MethodPost {
		s.handleBulkReorder(w, r, session, "feature", epicID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFeature(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	featureID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body FeatureInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			feature, err := s.service.UpdateFeature(r.Context(), session, featureID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, featurePayload(feature))
			return
		case http.MethodDelete:
			if err := s.service.DeleteFeature(r.Context(), session, featureID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "reposition" && r.Method == http.MethodPost {
		s.handleReposition(w, r, session, "feature", featureID)
		return
	}

	if len(parts) == 2 && parts[1] == "tasks" && r.Method == http.MethodPost {
		var body TaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.CreateTask(r.Context(), session, featureID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, taskPayload(task))
		return
	}

	if len(parts) == 3 && parts[1] == "tasks" && parts[2] == "reorder" && r.Method == http.MethodPost {
		s.handleBulkReorder(w, r, session, "task", featureID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	taskID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body TaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.UpdateTask(r.Context(), session, taskID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, taskPayload(task))
			return
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), session, taskID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "reposition" && r.Method == http.MethodPost {
		s.handleReposition(w, r, session, "task", taskID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReposition(w http.ResponseWriter, r *http.Request, session Session, entity, itemID string) {
	position, ok := decodePosition(w, r)
	if !ok {
		return
	}
	result, err := s.service.Reposition(r.Context(), session, entity, itemID, position)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBulkReorder(w http.ResponseWriter, r *http.Request, session Session, entity, scopeID string) {
	var body struct {
		Positions []store.PositionUpdate `json:"positions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.BulkReorder(r.Context(), session, entity, scopeID, body.Positions); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decodePosition(w http.ResponseWriter, r *http.Request) (int, bool) {
	var body struct {
		Position *int `json:"position"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "position must be an integer", nil)
		return 0, false
	}
	if body.Position == nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "position is required", nil)
		return 0, false
	}
	return *body.Position, true
}

func roadmapPayload(r store.Roadmap) map[string]any {
	return map[string]any{
		"id":          r.ID,
		"ownerId":     r.OwnerID,
		"name":        r.Name,
		"description": r.Description,
		"status":      r.Status,
	}
}

func milestonePayload(m store.Milestone) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"roadmapId":  m.RoadmapID,
		"title":      m.Title,
		"targetDate": m.TargetDate,
		"status":     m.Status,
		"position":   m.Position,
		"color":      m.Color,
	}
}

func epicPayload(e store.Epic) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"roadmapId":       e.RoadmapID,
		"title":           e.Title,
		"priority":        e.Priority,
		"status":          e.Status,
		"position":        e.Position,
		"estimatedEffort": e.EstimatedEffort,
		"actualEffort":    e.ActualEffort,
		"startDate":       e.StartDate,
		"endDate":         e.EndDate,
	}
}

func featurePayload(f store.Feature) map[string]any {
	return map[string]any{
		"id":              f.ID,
		"epicId":          f.EpicID,
		"roadmapId":       f.RoadmapID,
		"title":           f.Title,
		"status":          f.Status,
		"position":        f.Position,
		"isDeliverable":   f.IsDeliverable,
		"estimatedEffort": f.EstimatedEffort,
		"actualEffort":    f.ActualEffort,
	}
}

func taskPayload(t store.Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"featureId":   t.FeatureID,
		"title":       t.Title,
		"priority":    t.Priority,
		"status":      t.Status,
		"position":    t.Position,
		"dueDate":     t.DueDate,
		"completedAt": t.CompletedAt,
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	payload, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && strings.Contains(domainErr.Message, "already registered") {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	payload["message"] = "Please check your email to verify your account"
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body SignInInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, report, err := s.service.SignIn(r.Context(), body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	payload := map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"profileId":    session.ProfileID,
		"displayName":  session.DisplayName,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
	if report != nil {
		payload["migration"] = report
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	_ = s.service.RequestPasswordReset(r.Context(), body.Email)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If an account exists, a reset email has been sent",
	})
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}
