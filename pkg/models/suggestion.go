package models

import (
	"time"

	"github.com/google/uuid"
)

// SuggestionStatus represents the review state of a suggestion.
type SuggestionStatus string

const (
	SuggestionStatusPending  SuggestionStatus = "pending"
	SuggestionStatusAccepted SuggestionStatus = "accepted"
	SuggestionStatusRejected SuggestionStatus = "rejected"
	SuggestionStatusExpired  SuggestionStatus = "expired"
)

// ValidSuggestionStatuses contains all valid status values.
var ValidSuggestionStatuses = []SuggestionStatus{
	SuggestionStatusPending,
	SuggestionStatusAccepted,
	SuggestionStatusRejected,
	SuggestionStatusExpired,
}

// IsValidSuggestionStatus checks if the given status is valid.
func IsValidSuggestionStatus(s SuggestionStatus) bool {
	for _, v := range ValidSuggestionStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// SuggestionDecision is an explicit reviewer decision on a pending suggestion.
type SuggestionDecision string

const (
	DecisionAccept SuggestionDecision = "accept"
	DecisionReject SuggestionDecision = "reject"
)

// IsValidSuggestionDecision checks if the given decision is valid.
func IsValidSuggestionDecision(d SuggestionDecision) bool {
	return d == DecisionAccept || d == DecisionReject
}

// Suggestion is a non-binding, scored candidate assignment awaiting a human
// decision. Once resolved (accepted/rejected/expired) it is terminal: the
// feedback and review timestamp never change again.
type Suggestion struct {
	ID       uuid.UUID      `json:"id"`
	StoreID  uuid.UUID      `json:"store_id"`
	EntityID uuid.UUID      `json:"entity_id"`
	Label    string         `json:"label"`
	Kind     AssignmentKind `json:"kind"`
	Language string         `json:"language"`

	Confidence float64 `json:"confidence"` // 0.0-1.0
	Relevance  float64 `json:"relevance"`
	Reasoning  string  `json:"reasoning,omitempty"`

	Status     SuggestionStatus `json:"status"`
	Feedback   *string          `json:"feedback,omitempty"`
	ReviewedBy *string          `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsResolved reports whether the suggestion has left the pending state.
func (s *Suggestion) IsResolved() bool {
	return s.Status != SuggestionStatusPending
}

// IsExpired reports whether a pending suggestion is past its expiry.
func (s *Suggestion) IsExpired(now time.Time) bool {
	return s.Status == SuggestionStatusPending && s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}
