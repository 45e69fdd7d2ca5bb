// Package boundary implements the Boundary Enforcement module (C10): owns
// Boundary records and enforcement policies, and decides allow/deny for a
// (source, operation, resource) triple using direct or propagated trust,
// attestations, and policy precedence.
package boundary

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promethios/trust-fabric/pkg/canon"
	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/merkle"
	"github.com/promethios/trust-fabric/pkg/propagation"
	"github.com/promethios/trust-fabric/pkg/seal"
)

// Status is a boundary's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Boundary is a trust relationship between a source and this instance,
// exclusively owned by this package (spec.md §3 Ownership).
type Boundary struct {
	BoundaryID       string    `json:"boundary_id"`
	Source           string    `json:"source"`
	Target           string    `json:"target"`
	TrustLevel       int       `json:"trust_level"`
	Status           Status    `json:"status"`
	Policies         []string  `json:"policies"`
	Attestations     []string  `json:"attestations"`
	MerkleRoot       string    `json:"merkle_root"`
	RevocationReason string    `json:"revocation_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (b *Boundary) clone() *Boundary {
	c := *b
	c.Policies = append([]string(nil), b.Policies...)
	c.Attestations = append([]string(nil), b.Attestations...)
	return &c
}

// Policy is an enforcement policy governing one or more boundaries.
type Policy struct {
	PolicyID                 string    `json:"policy_id"`
	Type                     string    `json:"type"`
	ResourcePattern          string    `json:"resource_pattern"`
	RequiredTrust            int       `json:"required_trust"`
	RequiredAttestationTypes []string  `json:"required_attestation_types"`
	AllowedOperations        []string  `json:"allowed_operations"`
	Precedence               int       `json:"precedence"`
	Exceptions               []string  `json:"exceptions"`
	CreatedAt                time.Time `json:"created_at"`
}

// EnforcementLogEntry is an append-only record of one enforcement decision.
type EnforcementLogEntry struct {
	LogID        string    `json:"log_id"`
	Source       string    `json:"source"`
	Operation    string    `json:"operation"`
	ResourcePath string    `json:"resource_path"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason"`
	Ts           time.Time `json:"ts"`
}

// AttestationSource is the external attestation service consulted by Allow.
type AttestationSource interface {
	// Satisfies reports whether sourceID holds valid attestations for every
	// type in required, and a human-readable reason either way.
	Satisfies(sourceID string, required []string) (bool, string)
}

// PropagationSource supplies direct-or-propagated trust between two
// instances; satisfied by *propagation.Engine.
type PropagationSource interface {
	GetPropagatedTrust(source, target string) (float64, []string)
}

// Manager owns boundaries, enforcement policies, and the enforcement log.
// It implements propagation.BoundarySource so a Trust Propagation Engine can
// read (never mutate) its boundaries through a narrow interface.
type Manager struct {
	mu           sync.Mutex
	selfID       string
	boundaries   map[string]*Boundary
	policies     []*Policy
	logs         []*EnforcementLogEntry
	propagation  PropagationSource
	attestations AttestationSource
}

// New performs the shared tether check (seal.TetherCheck, spec.md Scenario
// 6 generalized across C2/C6/C9/C10) and then constructs a Manager for
// selfID (the "target" side of every boundary this instance owns).
func New(selfID string, propagationSource PropagationSource, attestationSource AttestationSource, contractVersion, phaseID string) (*Manager, error) {
	if err := seal.TetherCheck(contractVersion, phaseID); err != nil {
		return nil, err
	}
	return &Manager{
		selfID:       selfID,
		boundaries:   make(map[string]*Boundary),
		propagation:  propagationSource,
		attestations: attestationSource,
	}, nil
}

// SetPropagationSource attaches the propagated-trust source after
// construction, for callers that must break the Manager/Engine
// construction cycle (C9 reads C10's boundaries, C10's Allow reads C9's
// propagated trust).
func (m *Manager) SetPropagationSource(source PropagationSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagation = source
}

// CreateBoundary creates an active boundary from source to this instance.
func (m *Manager) CreateBoundary(source string, trustLevel int) (*Boundary, error) {
	if source == "" {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "boundary.create_boundary",
			fmt.Errorf("source must not be empty"))
	}
	now := time.Now()
	b := &Boundary{
		BoundaryID: uuid.NewString(),
		Source:     source,
		Target:     m.selfID,
		TrustLevel: clampTrust(trustLevel),
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	root, err := m.merkleRoot(b)
	if err != nil {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "boundary.create_boundary", err)
	}
	b.MerkleRoot = root

	m.mu.Lock()
	defer m.mu.Unlock()
	m.boundaries[b.BoundaryID] = b
	return b.clone(), nil
}

// UpdateTrustLevel sets a boundary's trust_level and regenerates its Merkle
// root. It satisfies propagation.BoundarySource.
func (m *Manager) UpdateTrustLevel(boundaryID string, newTrustLevel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boundaries[boundaryID]
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "boundary.update_trust_level",
			fmt.Errorf("boundary %q not found", boundaryID))
	}
	b.TrustLevel = clampTrust(newTrustLevel)
	b.UpdatedAt = time.Now()
	root, err := m.merkleRoot(b)
	if err != nil {
		return coreerr.New(coreerr.KindSchemaViolation, "boundary.update_trust_level", err)
	}
	b.MerkleRoot = root
	return nil
}

// RevokeBoundary marks a boundary revoked with an immutable reason.
func (m *Manager) RevokeBoundary(boundaryID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boundaries[boundaryID]
	if !ok {
		return coreerr.New(coreerr.KindNotFound, "boundary.revoke_boundary",
			fmt.Errorf("boundary %q not found", boundaryID))
	}
	b.Status = StatusRevoked
	b.RevocationReason = reason
	b.UpdatedAt = time.Now()
	root, err := m.merkleRoot(b)
	if err != nil {
		return coreerr.New(coreerr.KindSchemaViolation, "boundary.revoke_boundary", err)
	}
	b.MerkleRoot = root
	return nil
}

// ActiveBoundaries implements propagation.BoundarySource: a read-only
// projection, never a live pointer into Manager state.
func (m *Manager) ActiveBoundaries() []propagation.BoundaryView {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []propagation.BoundaryView
	for _, b := range m.boundaries {
		out = append(out, propagation.BoundaryView{
			BoundaryID: b.BoundaryID,
			Source:     b.Source,
			Target:     b.Target,
			TrustLevel: b.TrustLevel,
			Active:     b.Status == StatusActive,
		})
	}
	return out
}

// ListBoundaries returns boundaries matching the given non-empty filters.
func (m *Manager) ListBoundaries(source, target string, status Status) []*Boundary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Boundary
	for _, b := range m.boundaries {
		if source != "" && b.Source != source {
			continue
		}
		if target != "" && b.Target != target {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, b.clone())
	}
	return out
}

// CreateEnforcementPolicy registers a new policy.
func (m *Manager) CreateEnforcementPolicy(policyType, resourcePattern string, requiredTrust int, requiredAttestationTypes, allowedOperations []string, precedence int, exceptions []string) *Policy {
	p := &Policy{
		PolicyID:                 uuid.NewString(),
		Type:                     policyType,
		ResourcePattern:          resourcePattern,
		RequiredTrust:            requiredTrust,
		RequiredAttestationTypes: append([]string(nil), requiredAttestationTypes...),
		AllowedOperations:        append([]string(nil), allowedOperations...),
		Precedence:               precedence,
		Exceptions:               append([]string(nil), exceptions...),
		CreatedAt:                time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = append(m.policies, p)
	return p
}

// ListEnforcementPolicies returns policies matching the given non-empty
// filters.
func (m *Manager) ListEnforcementPolicies(policyType, resourcePattern string) []*Policy {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Policy
	for _, p := range m.policies {
		if policyType != "" && p.Type != policyType {
			continue
		}
		if resourcePattern != "" && p.ResourcePattern != resourcePattern {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Allow is the single public enforcement predicate (spec.md §4.10):
//
//	allow = (propagated_trust(source, self) ≥ required_trust/100)
//	        ∧ policy_allows(operation, resource)
//	        ∧ attestations_satisfy(requirements)
//
// Every call appends exactly one EnforcementLogEntry.
func (m *Manager) Allow(source, operation, resourcePath string, requiredTrust int) (bool, string) {
	trustPct := 0
	if m.propagation != nil {
		trust, _ := m.propagation.GetPropagatedTrust(source, m.selfID)
		trustPct = int(trust * 100)
	}
	if trustPct < requiredTrust {
		return m.logDecision(source, operation, resourcePath, false, "insufficient trust level")
	}

	allowed, reason := m.policyAllows(operation, resourcePath)
	if !allowed {
		return m.logDecision(source, operation, resourcePath, false, reason)
	}

	required := m.requiredAttestationsFor(resourcePath)
	if len(required) > 0 {
		if m.attestations == nil {
			return m.logDecision(source, operation, resourcePath, false, "attestation service not available")
		}
		satisfied, attReason := m.attestations.Satisfies(source, required)
		if !satisfied {
			return m.logDecision(source, operation, resourcePath, false, attReason)
		}
	}

	return m.logDecision(source, operation, resourcePath, true, "access allowed")
}

// EnforceBoundaryAccess checks access against a direct boundary's trust
// level: it requires an existing boundary from source to this instance
// whose trust_level meets requiredTrust, and that the matching policy set
// allows the operation. A specialization of Allow that bypasses trust
// propagation (C9) entirely, for callers that want to enforce on the
// boundary record itself rather than the propagated graph.
func (m *Manager) EnforceBoundaryAccess(source, operation, resourcePath string, requiredTrust int) (bool, string) {
	boundaries := m.ListBoundaries(source, m.selfID, StatusActive)
	if len(boundaries) == 0 {
		return m.logDecision(source, operation, resourcePath, false, "no trust boundary exists")
	}

	if boundaries[0].TrustLevel < requiredTrust {
		return m.logDecision(source, operation, resourcePath, false, "insufficient trust level")
	}

	if allowed, _ := m.policyAllows(operation, resourcePath); !allowed {
		return m.logDecision(source, operation, resourcePath, false, "boundary policy denied access")
	}
	return m.logDecision(source, operation, resourcePath, true, "trust level sufficient and policy allows access")
}

// EnforceAttestationRequirement checks that source holds a valid
// attestation of attestationType. A specialization of Allow's attestation
// check for callers enforcing a single named attestation type rather than
// the union of types a matching policy set requires.
func (m *Manager) EnforceAttestationRequirement(source, attestationType, operation, resourcePath string) (bool, string) {
	if m.attestations == nil {
		return m.logDecision(source, operation, resourcePath, false, "attestation service not available")
	}

	satisfied, reason := m.attestations.Satisfies(source, []string{attestationType})
	if !satisfied {
		return m.logDecision(source, operation, resourcePath, false, reason)
	}
	return m.logDecision(source, operation, resourcePath, true, fmt.Sprintf("required attestation %s verified", attestationType))
}

// EnforcePropagatedTrust checks access using only the propagated-trust
// graph (C9), independent of any boundary record or policy. A
// specialization of Allow's trust check for callers that enforce solely on
// propagated trust.
func (m *Manager) EnforcePropagatedTrust(source, operation, resourcePath string, requiredTrust int) (bool, string) {
	if m.propagation == nil {
		return m.logDecision(source, operation, resourcePath, false, "trust propagation engine not available")
	}

	trust, _ := m.propagation.GetPropagatedTrust(source, m.selfID)
	trustPct := int(trust * 100)
	if trustPct < requiredTrust {
		return m.logDecision(source, operation, resourcePath, false, "insufficient propagated trust level")
	}
	return m.logDecision(source, operation, resourcePath, true, fmt.Sprintf("propagated trust level sufficient: %d%%", trustPct))
}

// EnforcePolicy checks one named policy directly against a request,
// mirroring the single-policy enforcement path the original system exposed
// alongside the combined Allow predicate.
func (m *Manager) EnforcePolicy(policyID, source, operation, resourcePath string) (bool, string) {
	m.mu.Lock()
	var policy *Policy
	for _, p := range m.policies {
		if p.PolicyID == policyID {
			policy = p
			break
		}
	}
	m.mu.Unlock()

	if policy == nil {
		return m.logDecision(source, operation, resourcePath, false, "policy not found")
	}
	if !matchesPattern(resourcePath, policy.ResourcePattern) {
		return m.logDecision(source, operation, resourcePath, false, "resource path does not match policy pattern")
	}
	if !operationAllowed(policy, operation) {
		return m.logDecision(source, operation, resourcePath, false, "operation not allowed by policy")
	}
	if len(policy.RequiredAttestationTypes) > 0 {
		if m.attestations == nil {
			return m.logDecision(source, operation, resourcePath, false, "attestation service not available")
		}
		satisfied, reason := m.attestations.Satisfies(source, policy.RequiredAttestationTypes)
		if !satisfied {
			return m.logDecision(source, operation, resourcePath, false, reason)
		}
	}
	return m.logDecision(source, operation, resourcePath, true, fmt.Sprintf("policy %s allows access", policyID))
}

// GetEnforcementLogs returns log entries matching the given non-empty
// filters.
func (m *Manager) GetEnforcementLogs(source, operation, resourcePath string) []*EnforcementLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*EnforcementLogEntry
	for _, l := range m.logs {
		if source != "" && l.Source != source {
			continue
		}
		if operation != "" && l.Operation != operation {
			continue
		}
		if resourcePath != "" && l.ResourcePath != resourcePath {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (m *Manager) logDecision(source, operation, resourcePath string, allowed bool, reason string) (bool, string) {
	entry := &EnforcementLogEntry{
		LogID:        uuid.NewString(),
		Source:       source,
		Operation:    operation,
		ResourcePath: resourcePath,
		Allowed:      allowed,
		Reason:       reason,
		Ts:           time.Now(),
	}
	m.mu.Lock()
	m.logs = append(m.logs, entry)
	m.mu.Unlock()
	return allowed, reason
}

// requiredAttestationsFor collects the union of required attestation types
// from every policy matching resourcePath.
func (m *Manager) requiredAttestationsFor(resourcePath string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	for _, p := range m.policies {
		if !matchesPattern(resourcePath, p.ResourcePattern) {
			continue
		}
		for _, t := range p.RequiredAttestationTypes {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// policyAllows resolves every policy matching (operation, resourcePath):
// higher precedence wins; at equal precedence, deny beats allow; a tie
// between two denying or two allowing policies at the same precedence does
// not block the decision and is not logged.
func (m *Manager) policyAllows(operation, resourcePath string) (bool, string) {
	m.mu.Lock()
	var matches []*Policy
	for _, p := range m.policies {
		if matchesPattern(resourcePath, p.ResourcePattern) {
			matches = append(matches, p)
		}
	}
	m.mu.Unlock()

	if len(matches) == 0 {
		return true, "no policy matches resource; default allow"
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Precedence > matches[j].Precedence })
	topPrecedence := matches[0].Precedence

	decided := false
	finalAllow := true
	for _, p := range matches {
		if p.Precedence != topPrecedence {
			break
		}
		allowed := operationAllowed(p, operation)
		if decided && allowed != finalAllow {
			// Tie at equal precedence between conflicting decisions: deny wins.
			finalAllow = false
			continue
		}
		if !decided {
			finalAllow = allowed
			decided = true
		}
	}

	if !finalAllow {
		return false, "denied by highest-precedence matching policy"
	}
	return true, "allowed by highest-precedence matching policy"
}

func operationAllowed(p *Policy, operation string) bool {
	for _, exempt := range p.Exceptions {
		if exempt == operation {
			return false
		}
	}
	if len(p.AllowedOperations) == 0 {
		return true
	}
	for _, op := range p.AllowedOperations {
		if op == operation {
			return true
		}
	}
	return false
}

func matchesPattern(resourcePath, pattern string) bool {
	if pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(resourcePath, strings.TrimSuffix(pattern, "*"))
	}
	return resourcePath == pattern
}

func clampTrust(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// merkleRoot hashes the canonical byte encoding of a boundary's fields
// (excluding the root itself), mirroring the original's
// json.dumps(sort_keys=True) + sha256 but reusing this module's own
// canonical encoder and hasher instead of re-deriving one.
func (m *Manager) merkleRoot(b *Boundary) (string, error) {
	type rootInput struct {
		BoundaryID string   `json:"boundary_id"`
		Source     string   `json:"source"`
		Target     string   `json:"target"`
		TrustLevel int      `json:"trust_level"`
		Status     Status   `json:"status"`
		Policies   []string `json:"policies"`
	}
	encoded, err := canon.Marshal(rootInput{b.BoundaryID, b.Source, b.Target, b.TrustLevel, b.Status, b.Policies})
	if err != nil {
		return "", err
	}
	return merkle.HashDataHex(encoded), nil
}
