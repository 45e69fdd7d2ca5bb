// Package propagation implements the Trust Propagation Engine (C9): a
// directed weighted trust graph sourced from active boundaries, with decay,
// reinforcement, and path-discounted transitive trust.
package propagation

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/seal"
)

const (
	// decayRate is the daily trust decay rate (spec.md §4.9).
	decayRate = 0.1
	// propagationThreshold is the minimum edge weight a DFS hop may cross.
	propagationThreshold = 0.5
	// transitiveDiscount discounts trust over each additional hop beyond one.
	transitiveDiscount = 0.8
	// maxPathLength bounds the number of hops a propagated path may take.
	maxPathLength = 3
)

// BoundaryView is the read projection of a boundary this engine needs.
// Trust Propagation reads boundaries but never mutates them directly — all
// trust-level changes are applied through UpdateTrustLevel on
// BoundarySource, which is owned exclusively by the Boundary Manager
// (spec.md §3 Ownership note).
type BoundaryView struct {
	BoundaryID string
	Source     string
	Target     string
	TrustLevel int // 0..100
	Active     bool
}

// BoundarySource is satisfied by the Boundary Manager (pkg/boundary).
type BoundarySource interface {
	ActiveBoundaries() []BoundaryView
	UpdateTrustLevel(boundaryID string, newTrustLevel int) error
}

// HistoryEntry records one trust-level change for a (source, target) pair.
type HistoryEntry struct {
	TrustLevel float64   `json:"trust_level"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConflictStatus is a trust conflict's resolution state.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Conflict records a trust disagreement between two nodes.
type Conflict struct {
	ConflictID       string         `json:"conflict_id"`
	Source           string         `json:"source"`
	Target           string         `json:"target"`
	Type             string         `json:"conflict_type"`
	Data             map[string]any `json:"conflict_data"`
	ResolutionStatus ConflictStatus `json:"resolution_status"`
	ResolutionData   map[string]any `json:"resolution_data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       time.Time      `json:"resolved_at,omitempty"`
}

// Engine maintains the trust graph and its history.
type Engine struct {
	mu        sync.Mutex
	source    BoundarySource
	graph     map[string]map[string]float64
	history   map[string]map[string][]HistoryEntry
	conflicts []*Conflict
}

// New performs the shared tether check (seal.TetherCheck, spec.md Scenario
// 6 generalized across C2/C6/C9/C10) and then constructs an engine reading
// from source. source may be nil; in that case UpdateGraph is a no-op until
// one is attached (mirrors the Python original's guard clause around a
// possibly-absent trust_boundary_manager).
func New(source BoundarySource, contractVersion, phaseID string) (*Engine, error) {
	if err := seal.TetherCheck(contractVersion, phaseID); err != nil {
		return nil, err
	}
	return &Engine{
		source:  source,
		graph:   make(map[string]map[string]float64),
		history: make(map[string]map[string][]HistoryEntry),
	}, nil
}

// SetSource attaches the boundary source after construction, for callers
// that must break the Manager/Engine construction cycle.
func (e *Engine) SetSource(source BoundarySource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = source
}

// UpdateGraph rebuilds the adjacency from scratch from active boundaries.
func (e *Engine) UpdateGraph() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateGraphLocked()
}

func (e *Engine) updateGraphLocked() bool {
	if e.source == nil {
		return false
	}
	graph := make(map[string]map[string]float64)
	for _, b := range e.source.ActiveBoundaries() {
		if !b.Active {
			continue
		}
		if graph[b.Source] == nil {
			graph[b.Source] = make(map[string]float64)
		}
		graph[b.Source][b.Target] = float64(b.TrustLevel) / 100.0
	}
	e.graph = graph
	return true
}

// GetDirectTrust returns graph[source][target], or 0 if no edge exists.
func (e *Engine) GetDirectTrust(source, target string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.directTrustLocked(source, target)
}

func (e *Engine) directTrustLocked(source, target string) float64 {
	targets, ok := e.graph[source]
	if !ok {
		return 0
	}
	return targets[target]
}

// GetPropagatedTrust returns a direct edge if one exists; otherwise it
// searches for the best discounted transitive path via depth-first search,
// bounded by maxPathLength and restricted to edges at or above
// propagationThreshold, visiting neighbors in descending edge weight
// (spec.md §4.9).
func (e *Engine) GetPropagatedTrust(source, target string) (float64, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if direct := e.directTrustLocked(source, target); direct > 0 {
		return direct, []string{source, target}
	}

	path := e.findBestPath(source, target, map[string]bool{}, []string{source}, 0)
	if path == nil {
		return 0, nil
	}
	return e.pathScore(path), path
}

func (e *Engine) pathScore(path []string) float64 {
	raw := 1.0
	for i := 0; i < len(path)-1; i++ {
		raw *= e.directTrustLocked(path[i], path[i+1])
	}
	discount := math.Pow(transitiveDiscount, float64(len(path)-2))
	return raw * discount
}

func (e *Engine) findBestPath(current, target string, visited map[string]bool, path []string, depth int) []string {
	if current == target {
		return append([]string(nil), path...)
	}
	if depth >= maxPathLength {
		return nil
	}

	visitedCopy := make(map[string]bool, len(visited)+1)
	for k := range visited {
		visitedCopy[k] = true
	}
	visitedCopy[current] = true

	type candidate struct {
		node   string
		weight float64
	}
	var neighbors []candidate
	for neighbor, weight := range e.graph[current] {
		if weight >= propagationThreshold && !visitedCopy[neighbor] {
			neighbors = append(neighbors, candidate{neighbor, weight})
		}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].weight > neighbors[j].weight })

	var best []string
	bestTrust := 0.0
	for _, n := range neighbors {
		newPath := e.findBestPath(n.node, target, visitedCopy, append(path, n.node), depth+1)
		if newPath == nil {
			continue
		}
		trust := e.pathScore(newPath)
		if trust > bestTrust {
			best = newPath
			bestTrust = trust
		}
	}
	return best
}

// ApplyDecay multiplies every active boundary's trust_level by
// (1-decay_rate)^days, floored to an integer, via the boundary source.
func (e *Engine) ApplyDecay(days int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == nil {
		return false
	}
	decayFactor := math.Pow(1-decayRate, float64(days))
	for _, b := range e.source.ActiveBoundaries() {
		newTrust := int(float64(b.TrustLevel) * decayFactor)
		if err := e.source.UpdateTrustLevel(b.BoundaryID, newTrust); err != nil {
			continue
		}
	}
	e.updateGraphLocked()
	return true
}

// Reinforce adds floor(delta*100) points to the (source, target) boundary's
// trust, capped at 100, records the change in history, and rebuilds the
// graph.
func (e *Engine) Reinforce(source, target string, delta float64, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.findBoundary(source, target)
	if err != nil {
		return err
	}

	points := int(delta * 100)
	newTrust := min(100, b.TrustLevel+points)
	if err := e.source.UpdateTrustLevel(b.BoundaryID, newTrust); err != nil {
		return coreerr.New(coreerr.KindTransportFailure, "propagation.reinforce", err)
	}
	e.recordChange(source, target, float64(newTrust)/100.0, fmt.Sprintf("reinforcement: %s", reason))
	e.updateGraphLocked()
	return nil
}

// HandleConflict records a conflict, deducts a flat 20 trust points from the
// (source, target) boundary, and rebuilds the graph.
func (e *Engine) HandleConflict(source, target, conflictType string, data map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := &Conflict{
		ConflictID:       uuid.NewString(),
		Source:           source,
		Target:           target,
		Type:             conflictType,
		Data:             data,
		ResolutionStatus: ConflictPending,
		CreatedAt:        time.Now(),
	}
	e.conflicts = append(e.conflicts, c)

	if e.source != nil {
		if b, err := e.findBoundary(source, target); err == nil {
			newTrust := b.TrustLevel - 20
			if newTrust < 0 {
				newTrust = 0
			}
			e.source.UpdateTrustLevel(b.BoundaryID, newTrust)
			e.updateGraphLocked()
		}
	}

	return c.ConflictID, nil
}

// ResolveConflict records a resolution and applies an optional trust
// adjustment (positive or negative, clamped to [0,100]).
func (e *Engine) ResolveConflict(conflictID string, status ConflictStatus, data map[string]any, trustAdjustment int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var c *Conflict
	for _, candidate := range e.conflicts {
		if candidate.ConflictID == conflictID {
			c = candidate
			break
		}
	}
	if c == nil {
		return coreerr.New(coreerr.KindNotFound, "propagation.resolve_conflict",
			fmt.Errorf("conflict %q not found", conflictID))
	}

	c.ResolutionStatus = status
	c.ResolutionData = data
	c.ResolvedAt = time.Now()

	if trustAdjustment != 0 && e.source != nil {
		if b, err := e.findBoundary(c.Source, c.Target); err == nil {
			newTrust := b.TrustLevel + trustAdjustment
			if newTrust < 0 {
				newTrust = 0
			} else if newTrust > 100 {
				newTrust = 100
			}
			e.source.UpdateTrustLevel(b.BoundaryID, newTrust)
			e.updateGraphLocked()
		}
	}
	return nil
}

// Conflicts returns every recorded conflict matching the given non-empty
// filters.
func (e *Engine) Conflicts(source, target, conflictType string, status ConflictStatus) []*Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Conflict
	for _, c := range e.conflicts {
		if source != "" && c.Source != source {
			continue
		}
		if target != "" && c.Target != target {
			continue
		}
		if conflictType != "" && c.Type != conflictType {
			continue
		}
		if status != "" && c.ResolutionStatus != status {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (e *Engine) findBoundary(source, target string) (BoundaryView, error) {
	if e.source == nil {
		return BoundaryView{}, coreerr.New(coreerr.KindNotFound, "propagation.find_boundary",
			fmt.Errorf("no boundary source attached"))
	}
	for _, b := range e.source.ActiveBoundaries() {
		if b.Source == source && b.Target == target {
			return b, nil
		}
	}
	return BoundaryView{}, coreerr.New(coreerr.KindNotFound, "propagation.find_boundary",
		fmt.Errorf("no boundary %s -> %s", source, target))
}

func (e *Engine) recordChange(source, target string, trustLevel float64, reason string) {
	if e.history[source] == nil {
		e.history[source] = make(map[string][]HistoryEntry)
	}
	e.history[source][target] = append(e.history[source][target], HistoryEntry{
		TrustLevel: trustLevel,
		Reason:     reason,
		Timestamp:  time.Now(),
	})
}
