// Package models contains domain types for the classification engine.
package models

import (
	"context"

	"github.com/google/uuid"
)

// AssignmentSource represents how an assignment was created or modified.
type AssignmentSource string

const (
	SourceManual     AssignmentSource = "manual"     // Direct edit via API
	SourceAutomatic  AssignmentSource = "automatic"  // Engine-internal bookkeeping (sweeps, usage tracking)
	SourceRule       AssignmentSource = "rule"       // Rule engine match
	SourceSuggestion AssignmentSource = "suggestion" // Accepted suggestion
	SourceImported   AssignmentSource = "imported"   // Bulk import from the sync pipeline
)

// String returns the string representation of an AssignmentSource.
func (s AssignmentSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a known assignment source.
func (s AssignmentSource) IsValid() bool {
	switch s {
	case SourceManual, SourceAutomatic, SourceRule, SourceSuggestion, SourceImported:
		return true
	default:
		return false
	}
}

// Provenance carries actor and source information through mutating operations.
// History rows record WHO performed a change and HOW it was performed.
type Provenance struct {
	// Source indicates how the operation was performed.
	Source AssignmentSource

	// ActorID identifies the user who triggered the operation, extracted
	// from JWT claims. Nil for scheduled engine operations (sweeps).
	ActorID *uuid.UUID

	// Reason is an optional free-text justification stored on history rows.
	Reason string
}

// Actor returns the actor as a string for history rows. Scheduled engine
// operations without a user are recorded as "system".
func (p Provenance) Actor() string {
	if p.ActorID == nil {
		return "system"
	}
	return p.ActorID.String()
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
// Returns the provenance and true if present, otherwise a zero value and false.
func GetProvenance(ctx context.Context) (Provenance, bool) {
	p, ok := ctx.Value(provenanceKey{}).(Provenance)
	return p, ok
}

// WithManualProvenance returns a context with manual provenance set.
// Use this for HTTP handlers serving direct user requests.
func WithManualProvenance(ctx context.Context, actorID uuid.UUID) context.Context {
	return WithProvenance(ctx, Provenance{Source: SourceManual, ActorID: &actorID})
}

// WithSystemProvenance returns a context with automatic provenance and no
// actor. Use this for scheduled operations (expiry sweeps, batch apply).
func WithSystemProvenance(ctx context.Context) context.Context {
	return WithProvenance(ctx, Provenance{Source: SourceAutomatic})
}
