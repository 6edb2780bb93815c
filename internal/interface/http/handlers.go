package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/habitverse/habitverse-core/internal/application/command"
	"github.com/habitverse/habitverse-core/internal/application/query"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "HabitVerse Progress Engine",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":       "/health",
			"achievements": "/api/v1/achievements",
			"ledger":       "/api/v1/users/{id}/ledger",
			"rewards":      "/api/v1/users/{id}/rewards",
			"live":         "/ws?user_id={id}",
		},
	})
}

// handleHealth reports every registered check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if status.Version == "" {
		status.Version = s.config.Version
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleInitializeLedger handles POST /api/v1/users/{id}/ledger.
// 201 when the ledger was created, 200 when it already existed.
func (s *Server) handleInitializeLedger(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.InitializeLedger.Handle(r.Context(), command.InitializeLedgerCommand{
		UserID:        mux.Vars(r)["id"],
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.fail(w, r, "initialize ledger", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, ledgerResponse{
		Ledger:  query.NewLedgerView(res.Ledger, s.deps.Curve),
		Created: res.Created,
	})
}

// handleGetLedger handles GET /api/v1/users/{id}/ledger.
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetLedger.Handle(r.Context(), query.GetLedgerQuery{
		UserID:      mux.Vars(r)["id"],
		BypassCache: getQueryParamBool(r, "fresh"),
	})
	if err != nil {
		s.fail(w, r, "get ledger", err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

type ledgerResponse struct {
	Ledger  query.LedgerView `json:"ledger"`
	Created bool             `json:"created"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// rewardRequest is the body of POST /api/v1/users/{id}/rewards.
type rewardRequest struct {
	Kind       string     `json:"kind"`
	EntityID   string     `json:"entity_id"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// rewardResponse reports what a reward changed. Applied is false for a
// repeated claim; the ledger is returned unchanged in that case.
type rewardResponse struct {
	Applied        bool                         `json:"applied"`
	ClaimKey       string                       `json:"claim_key"`
	XPGain         int                          `json:"xp_gain"`
	CoinGain       int                          `json:"coin_gain"`
	LeveledUp      bool                         `json:"leveled_up"`
	XPToNextLevel  int                          `json:"xp_to_next_level"`
	StreakExtended bool                         `json:"streak_extended"`
	StreakBroken   bool                         `json:"streak_broken"`
	NewUnlocks     []progress.AchievementStatus `json:"new_unlocks"`
	Ledger         progress.Ledger              `json:"ledger"`
}

// handleApplyReward handles POST /api/v1/users/{id}/rewards.
func (s *Server) handleApplyReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Malformed request body", err.Error())
		return
	}

	kind, err := progress.ParseActivityKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cmd := command.ApplyRewardCommand{
		UserID:        mux.Vars(r)["id"],
		Kind:          kind,
		EntityID:      req.EntityID,
		CorrelationID: getRequestID(r.Context()),
	}
	if req.OccurredAt != nil {
		cmd.OccurredAt = *req.OccurredAt
	}

	res, err := s.deps.ApplyReward.Handle(r.Context(), cmd)
	if err != nil {
		s.fail(w, r, "apply reward", err)
		return
	}

	unlocks := res.NewUnlocks
	if unlocks == nil {
		unlocks = []progress.AchievementStatus{}
	}
	writeJSON(w, r, http.StatusOK, rewardResponse{
		Applied:        res.Applied,
		ClaimKey:       res.ClaimKey,
		XPGain:         res.XPGain,
		CoinGain:       res.CoinGain,
		LeveledUp:      res.LeveledUp,
		XPToNextLevel:  res.XPToNextLevel,
		StreakExtended: res.StreakExtended,
		StreakBroken:   res.StreakBroken,
		NewUnlocks:     unlocks,
		Ledger:         res.Ledger,
	})
}

// handleGetRewardHistory handles GET /api/v1/users/{id}/rewards?limit=.
func (s *Server) handleGetRewardHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := s.deps.GetRewardHistory.Handle(r.Context(), query.GetRewardHistoryQuery{
		UserID: mux.Vars(r)["id"],
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, "get reward history", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, view, &ResponseMeta{
		TotalCount: len(view.Claims),
		PageSize:   limit,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetAchievements handles
// GET /api/v1/users/{id}/achievements?category=&rarity=&unlocked=.
func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetAchievements.Handle(r.Context(), query.GetAchievementsQuery{
		UserID:       mux.Vars(r)["id"],
		Category:     r.URL.Query().Get("category"),
		Rarity:       r.URL.Query().Get("rarity"),
		OnlyUnlocked: getQueryParamBool(r, "unlocked"),
	})
	if err != nil {
		s.fail(w, r, "get achievements", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, view, &ResponseMeta{TotalCount: len(view.Statuses)})
}

// handleGetCatalog handles GET /api/v1/achievements.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSONWithMeta(w, r, http.StatusOK, s.deps.Catalog, &ResponseMeta{TotalCount: len(s.deps.Catalog)})
}

// fail logs server-side failures and writes the mapped error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		s.logger.Error("failed to "+op,
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.RequestID(getRequestID(r.Context())),
		)
	}
	writeError(w, r, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
}

// classify maps an error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrLockNotAcquired):
		return http.StatusServiceUnavailable, "busy"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError writes the envelope for err. Internal errors never leak their
// message to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := publicMessage(err)
	switch status {
	case http.StatusInternalServerError:
		message = "An unexpected error occurred"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		message = "The user is busy, retry shortly"
	}
	writeJSONError(w, r, status, code, message)
}

// publicMessage prefers the DomainError message over the wrapped chain.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSONWithMeta(w, r, status, data, nil)
}

// writeJSONWithMeta writes a JSON response with custom metadata.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	write(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONErrorWithDetails(w, r, status, code, message, "")
}

// writeJSONErrorWithDetails writes an error JSON response with details.
func writeJSONErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	write(w, status, JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

func write(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// getQueryParamInt parses an integer query parameter with a default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, shared.NewDomainError("http", "query", shared.ErrInvalidInput, key+" must be an integer")
	}
	return n, nil
}

// getQueryParamBool extracts a boolean query parameter.
func getQueryParamBool(r *http.Request, key string) bool {
	value := strings.ToLower(r.URL.Query().Get(key))
	return value == "true" || value == "1" || value == "yes"
}
