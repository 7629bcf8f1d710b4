/*
handlers.go - HTTP handlers for the loyalty engine

PURPOSE:
  Thin translation layer between HTTP and the engine. The engine
  already absorbs configuration/data issues as zero-effect results, so
  most endpoints respond 200 with a count; only malformed requests and
  storage failures produce error statuses.

ENDPOINTS:
  POST /api/rules                       Create a rule from a JSON definition
  GET  /api/rules                       List rules
  GET  /api/rules/{id}                  Get one rule
  POST /api/rules/{id}/run              Run a schedule-triggered rule now
  GET  /api/schedules                   Count of runnable schedule rules
  POST /api/events                      Deliver a business event
  POST /api/admin/reaper/run            Sweep expired lots
  POST /api/members                     Bootstrap a member (+ birthday)
  GET  /api/members/{id}/balance        Current point balance
  GET  /api/members/{id}/lots/expiring  Lots expiring within ?days=N
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/loyalty-engine/factory"
	"github.com/meridian/loyalty-engine/loyalty"
)

// Handler carries the engine and stores used by the HTTP surface.
type Handler struct {
	Engine  *loyalty.Engine
	Rules   loyalty.RuleStore
	Members loyalty.MemberStore
}

func NewHandler(engine *loyalty.Engine, rules loyalty.RuleStore, members loyalty.MemberStore) *Handler {
	return &Handler{Engine: engine, Rules: rules, Members: members}
}

// =============================================================================
// RULES
// =============================================================================

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	rule, err := factory.ParseRule(body)
	if err != nil {
		if errors.Is(err, loyalty.ErrInvalidRule) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "malformed rule definition")
		return
	}

	saved, err := h.Rules.SaveRule(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(saved))
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Rules.Rules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	result := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		result = append(result, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rule, err := h.Rules.Rule(r.Context(), loyalty.RuleID(id))
	if errors.Is(err, loyalty.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// RunSchedule triggers a scheduled rule run. A rule that is unknown,
// disabled, or not schedule-triggered yields grants_created=0 rather
// than an error - the caller is a scheduler, not a user.
func (h *Handler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	granted, err := h.Engine.RunSchedule(r.Context(), loyalty.RuleID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GrantsResponse{GrantsCreated: granted})
}

func (h *Handler) GetSchedules(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.RunnableSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SchedulesResponse{RunnableSchedules: n})
}

// =============================================================================
// EVENTS
// =============================================================================

func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" || req.MemberID == 0 {
		writeError(w, http.StatusBadRequest, "type and member_id are required")
		return
	}

	granted, err := h.Engine.HandleEvent(r.Context(), loyalty.Event{
		Type:      loyalty.TriggerType(req.Type),
		MemberID:  loyalty.MemberID(req.MemberID),
		Amount:    req.Amount,
		OrderID:   req.OrderID,
		CustomKey: req.CustomEventKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GrantsResponse{GrantsCreated: granted})
}

// =============================================================================
// REAPER
// =============================================================================

func (h *Handler) RunReaper(w http.ResponseWriter, r *http.Request) {
	expired, err := h.Engine.RunExpiryReaper(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReaperResponse{ExpiredLots: expired})
}

// =============================================================================
// MEMBERS
// =============================================================================

func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	member := loyalty.Member{
		ID:        loyalty.MemberID(req.ID),
		Active:    req.Active == nil || *req.Active,
		CreatedAt: time.Now().UTC(),
	}
	if req.CreatedAt != nil {
		member.CreatedAt = *req.CreatedAt
	}
	if err := h.Members.SaveMember(r.Context(), member); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Birthday != nil {
		p := loyalty.Profile{MemberID: member.ID, Birthday: req.Birthday}
		if err := h.Members.SaveProfile(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	balance, err := h.Engine.Balance(r.Context(), loyalty.MemberID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{MemberID: id, Balance: balance})
}

func (h *Handler) GetExpiringLots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	lots, err := h.Engine.ExpiringWithin(r.Context(), loyalty.MemberID(id), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLotResponses(lots))
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON: "+err.Error())
		return false
	}
	return true
}
