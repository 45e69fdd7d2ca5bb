// Package schema validates boundary-visible objects against their versioned
// JSON Schema documents (spec.md §6). Two contract versions coexist:
// v2025.05.20 governs the seal/consensus path (seal, consensus, conflict,
// node, topology, distribution); v2025.05.18 governs the trust/boundary
// path (trust record, boundary). Callers never pick a version directly —
// ValidatorFor routes by ObjectType so the two generations can never be
// conflated.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/promethios/trust-fabric/pkg/coreerr"
)

//go:embed schemas/*/*.json
var schemaFS embed.FS

// ObjectType names a boundary-visible object kind.
type ObjectType string

const (
	ObjectSeal         ObjectType = "seal"
	ObjectConsensus    ObjectType = "consensus"
	ObjectConflict     ObjectType = "conflict"
	ObjectNode         ObjectType = "node"
	ObjectTopology     ObjectType = "topology"
	ObjectDistribution ObjectType = "distribution"
	ObjectTrust        ObjectType = "trust"
	ObjectBoundary     ObjectType = "boundary"
)

const (
	// VersionSealConsensus is the contract version for the seal/consensus
	// path (spec.md §6).
	VersionSealConsensus = "v2025.05.20"
	// VersionTrustBoundary is the contract version for the trust/boundary
	// path (spec.md §6).
	VersionTrustBoundary = "v2025.05.18"
)

// contractVersion routes an ObjectType to its one supported contract
// version. conflict, node, topology, and distribution are not named
// explicitly in spec.md §6's two example groupings, but each is produced
// and consumed exclusively by components on the seal/consensus side
// (C2/C3/C4/C5/C6), so they share that path's version.
var contractVersion = map[ObjectType]string{
	ObjectSeal:         VersionSealConsensus,
	ObjectConsensus:    VersionSealConsensus,
	ObjectConflict:     VersionSealConsensus,
	ObjectNode:         VersionSealConsensus,
	ObjectTopology:     VersionSealConsensus,
	ObjectDistribution: VersionSealConsensus,
	ObjectTrust:        VersionTrustBoundary,
	ObjectBoundary:     VersionTrustBoundary,
}

// VersionFor returns the one contract version an ObjectType validates
// against.
func VersionFor(t ObjectType) (string, error) {
	v, ok := contractVersion[t]
	if !ok {
		return "", coreerr.New(coreerr.KindSchemaViolation, "schema.version_for",
			fmt.Errorf("unknown object type %q", t))
	}
	return v, nil
}

// Validator validates JSON-encoded objects against their embedded schema
// documents. Compiled schemas are cached after first use since
// gojsonschema's compilation step is the expensive part of validation.
type Validator struct {
	mu    sync.Mutex
	cache map[ObjectType]*gojsonschema.Schema
}

// New constructs a Validator backed by the embedded schema documents.
func New() *Validator {
	return &Validator{cache: make(map[ObjectType]*gojsonschema.Schema)}
}

// Validate checks data (a JSON-encoded object) against ObjectType t's
// schema for its one supported contract version. A non-nil error is always
// a *coreerr.Error of kind KindSchemaViolation.
func (v *Validator) Validate(t ObjectType, data []byte) error {
	s, err := v.schemaFor(t)
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return coreerr.New(coreerr.KindSchemaViolation, "schema.validate", err)
	}
	if !result.Valid() {
		return coreerr.New(coreerr.KindSchemaViolation, "schema.validate", formatErrors(t, result.Errors()))
	}
	return nil
}

// ValidateValue marshals value to canonical JSON (via encoding/json, not
// pkg/canon — schema validation checks shape, not hash-stable byte layout)
// and validates it.
func (v *Validator) ValidateValue(t ObjectType, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return coreerr.New(coreerr.KindSchemaViolation, "schema.validate_value", err)
	}
	return v.Validate(t, data)
}

func (v *Validator) schemaFor(t ObjectType) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cache[t]; ok {
		return s, nil
	}

	version, err := VersionFor(t)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("schemas/%s/%s.json", version, t)
	raw, err := schemaFS.ReadFile(path)
	if err != nil {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "schema.schema_for",
			fmt.Errorf("no embedded schema for %s/%s: %w", version, t, err))
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "schema.schema_for", err)
	}
	v.cache[t] = s
	return s, nil
}

func formatErrors(t ObjectType, errs []gojsonschema.ResultError) error {
	if len(errs) == 0 {
		return fmt.Errorf("%s failed schema validation", t)
	}
	msg := fmt.Sprintf("%s failed schema validation: %s", t, errs[0].String())
	for _, e := range errs[1:] {
		msg += "; " + e.String()
	}
	return fmt.Errorf("%s", msg)
}
