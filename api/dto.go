/*
dto.go - Request/response shapes and JSON helpers

PURPOSE:
  Wire types for the HTTP surface, kept separate from the domain types
  so the engine's structs never grow json tags for someone else's API.
*/
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/loyalty"
)

// =============================================================================
// REQUESTS
// =============================================================================

// EventRequest is the payload order/registration/member-lifecycle code
// posts when a business event happens.
type EventRequest struct {
	Type           string           `json:"type"`
	MemberID       int64            `json:"member_id"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	OrderID        string           `json:"order_id,omitempty"`
	CustomEventKey string           `json:"custom_event_key,omitempty"`
}

// MemberRequest bootstraps a member record (deployments with an
// external member service sync through this).
type MemberRequest struct {
	ID        int64      `json:"id"`
	Active    *bool      `json:"active,omitempty"` // Default true
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Birthday  *time.Time `json:"birthday,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type GrantsResponse struct {
	GrantsCreated int `json:"grants_created"`
}

type ReaperResponse struct {
	ExpiredLots int `json:"expired_lots"`
}

type BalanceResponse struct {
	MemberID int64 `json:"member_id"`
	Balance  int64 `json:"balance"`
}

type SchedulesResponse struct {
	RunnableSchedules int `json:"runnable_schedules"`
}

type LotResponse struct {
	ID        string    `json:"id"`
	RuleID    int64     `json:"rule_id"`
	Points    int64     `json:"points"`
	Remaining int64     `json:"remaining"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func toLotResponses(lots []loyalty.Lot) []LotResponse {
	result := make([]LotResponse, 0, len(lots))
	for _, l := range lots {
		result = append(result, LotResponse{
			ID:        l.ID,
			RuleID:    int64(l.RuleID),
			Points:    l.Points,
			Remaining: l.Remaining,
			Reason:    l.Reason,
			ExpiresAt: l.ExpiresAt,
			CreatedAt: l.CreatedAt,
		})
	}
	return result
}

type RuleResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Trigger     string `json:"trigger"`
	Audience    string `json:"audience"`
	PointType   string `json:"point_type"`
	MonthlyCap  int64  `json:"monthly_cap,omitempty"`
	TotalBudget int64  `json:"total_budget,omitempty"`
	ExpiryMode  string `json:"expiry_mode,omitempty"`
}

func toRuleResponse(r loyalty.Rule) RuleResponse {
	return RuleResponse{
		ID:          int64(r.ID),
		Name:        r.Name,
		Enabled:     r.Enabled,
		Trigger:     string(r.Trigger),
		Audience:    string(r.Audience),
		PointType:   string(r.PointType),
		MonthlyCap:  r.MonthlyCap,
		TotalBudget: r.TotalBudget,
		ExpiryMode:  string(r.ExpiryMode),
	}
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
