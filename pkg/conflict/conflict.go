// Package conflict implements the Conflict Detector (C3): a pure classifier
// that turns a conflict type and context into a typed, severity-ranked
// conflict record. It never suppresses a conflict — the absence of one is
// encoded as an explicit "none" record, attached to every seal.
package conflict

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names the kind of anomaly a conflict record describes.
type Type string

const (
	TypeSchemaViolation     Type = "schema_violation"
	TypeTrustThreshold      Type = "trust_threshold"
	TypeTetherFailure       Type = "tether_failure"
	TypeAttestationMismatch Type = "attestation_mismatch"
	TypeVerificationFailure Type = "verification_failure"
	TypeNone                Type = "none"
)

// Severity drives the trust-score penalty applied in Trust Aggregation (C8).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ResolutionStatus tracks whether a conflict has been addressed.
type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionPending    ResolutionStatus = "pending"
	ResolutionResolved   ResolutionStatus = "resolved"
)

// Record is a single typed conflict.
type Record struct {
	ConflictID          string                 `json:"conflict_id"`
	Type                Type                   `json:"type"`
	Severity             Severity               `json:"severity"`
	ResolutionStatus      ResolutionStatus       `json:"resolution_status"`
	Evidence             []string               `json:"evidence"`
	AffectedComponents    []string               `json:"affected_components"`
	ArbitrationMetadata  map[string]any         `json:"arbitration_metadata"`
	CreatedAt            time.Time              `json:"created_at"`
}

// autoSeverity gives the fixed severity for conflict types this detector
// classifies on its own (spec.md §4.3's detection rules). attestation_mismatch
// and verification_failure are produced by upstream components (C7, C10)
// and passed through with a caller-supplied severity via New, not Classify.
var autoSeverity = map[Type]Severity{
	TypeSchemaViolation: SeverityHigh,
	TypeTrustThreshold:  SeverityMedium,
	TypeTetherFailure:   SeverityCritical,
	TypeNone:            SeverityLow,
}

// Classify builds a conflict record for one of the types this detector
// assigns severity to automatically (schema_violation, trust_threshold,
// tether_failure, none). Evidence and affectedComponents are normalized to
// non-nil empty slices rather than left nil, so the record always has a
// stable, serializable shape.
func Classify(conflictType Type, affectedComponents, evidence []string) (*Record, error) {
	severity, ok := autoSeverity[conflictType]
	if !ok {
		return nil, fmt.Errorf("conflict type %q has no automatic severity; use New", conflictType)
	}
	return New(conflictType, severity, affectedComponents, evidence, nil), nil
}

// New builds a conflict record with an explicit severity, for types produced
// upstream (attestation_mismatch, verification_failure) or when a caller
// needs to override the automatic classification.
func New(conflictType Type, severity Severity, affectedComponents, evidence []string, arbitrationMetadata map[string]any) *Record {
	if affectedComponents == nil {
		affectedComponents = []string{}
	}
	if evidence == nil {
		evidence = []string{}
	}
	if arbitrationMetadata == nil {
		arbitrationMetadata = map[string]any{"arbitration_status": "not_required"}
	}

	return &Record{
		ConflictID:         uuid.NewString(),
		Type:               conflictType,
		Severity:           severity,
		ResolutionStatus:   ResolutionUnresolved,
		Evidence:           evidence,
		AffectedComponents: affectedComponents,
		ArbitrationMetadata: arbitrationMetadata,
		CreatedAt:          time.Now(),
	}
}

// None synthesizes the explicit "none" conflict record attached to a clean
// seal (spec.md invariant S3: conflict_meta is always present).
func None() *Record {
	rec, _ := Classify(TypeNone, nil, nil)
	return rec
}
