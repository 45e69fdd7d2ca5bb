// Package trust implements the Trust Aggregation Service (C8): converts a
// closed consensus record plus per-node trust into a seal trust score, with
// confidence metrics and an append-only history per seal.
package trust

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promethios/trust-fabric/pkg/conflict"
	"github.com/promethios/trust-fabric/pkg/consensus"
	"github.com/promethios/trust-fabric/pkg/coreerr"
)

// defaultNodeTrust is substituted for any participant missing from the
// supplied node-trust map (spec.md §4.8).
const defaultNodeTrust = 0.5

// severityPenalty maps a conflict's severity to the flat deduction applied
// to a seal's trust score (spec.md §4.8).
var severityPenalty = map[conflict.Severity]float64{
	conflict.SeverityLow:      0.1,
	conflict.SeverityMedium:   0.2,
	conflict.SeverityHigh:     0.4,
	conflict.SeverityCritical: 0.6,
}

// WeightedResult is one participant's contribution to a trust score.
type WeightedResult struct {
	NodeID  string  `json:"node_id"`
	Weight  float64 `json:"weight"`
	Verdict bool    `json:"verdict"`
}

// Record is a derived, immutable trust computation for one closed consensus
// record.
type Record struct {
	TrustRecordID        string            `json:"trust_record_id"`
	SealID               string            `json:"seal_id"`
	ConsensusID          string            `json:"consensus_id"`
	TrustScore           float64           `json:"trust_score"`
	WeightedResults      []WeightedResult  `json:"weighted_results"`
	TotalWeight          float64           `json:"total_weight"`
	PositiveWeightedSum  float64           `json:"positive_weighted_sum"`
	NodeCount            int               `json:"node_count"`
	AgreementRatio       float64           `json:"agreement_ratio"`
	Variance             float64           `json:"variance"`
	Confidence           float64           `json:"confidence"`
	Ts                   time.Time         `json:"ts"`
}

// Service owns the append-only trust history, keyed by seal_id.
type Service struct {
	mu      sync.RWMutex
	history map[string][]*Record
}

// New constructs an empty trust aggregation service.
func New() *Service {
	return &Service{history: make(map[string][]*Record)}
}

// Aggregate computes and appends a trust record for record against
// nodeTrust, a map of node_id → trust_score∈[0,1]. Missing entries default
// to 0.5. conflictMeta, if non-nil and not type "none", further penalizes
// the score by its severity, clamped into [0,1].
func (s *Service) Aggregate(record *consensus.Record, nodeTrust map[string]float64, conflictMeta *conflict.Record) (*Record, error) {
	if record == nil {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "trust.aggregate",
			fmt.Errorf("consensus record must not be nil"))
	}

	var totalWeight, positiveWeightedSum float64
	weighted := make([]WeightedResult, len(record.Participants))
	verdicts := make([]bool, len(record.Participants))
	positives, negatives := 0, 0

	for i, p := range record.Participants {
		w, ok := nodeTrust[p.NodeID]
		if !ok {
			w = defaultNodeTrust
		}
		totalWeight += w
		if p.Verdict {
			positiveWeightedSum += w
			positives++
		} else {
			negatives++
		}
		weighted[i] = WeightedResult{NodeID: p.NodeID, Weight: w, Verdict: p.Verdict}
		verdicts[i] = p.Verdict
	}

	score := 0.0
	if totalWeight > 0 {
		score = positiveWeightedSum / totalWeight
	}

	if conflictMeta != nil && conflictMeta.Type != conflict.TypeNone {
		if penalty, ok := severityPenalty[conflictMeta.Severity]; ok {
			score -= penalty
		}
	}
	score = clamp01(score)

	nodeCount := len(record.Participants)
	agreementRatio := 0.0
	if nodeCount > 0 {
		agreementRatio = float64(max(positives, negatives)) / float64(nodeCount)
	}
	variance := weightedVariance(verdicts, weighted)
	confidence := agreementRatio * (1 - variance)

	rec := &Record{
		TrustRecordID:       uuid.NewString(),
		SealID:              record.SealID,
		ConsensusID:         record.ConsensusID,
		TrustScore:          score,
		WeightedResults:     weighted,
		TotalWeight:         totalWeight,
		PositiveWeightedSum: positiveWeightedSum,
		NodeCount:           nodeCount,
		AgreementRatio:      agreementRatio,
		Variance:            variance,
		Confidence:          confidence,
		Ts:                  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[record.SealID] = append(s.history[record.SealID], rec)
	return rec, nil
}

// Current returns the most recent trust record for sealID.
func (s *Service) Current(sealID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.history[sealID]
	if len(recs) == 0 {
		return nil, coreerr.New(coreerr.KindNotFound, "trust.current",
			fmt.Errorf("no trust record for seal %q", sealID))
	}
	return recs[len(recs)-1], nil
}

// History returns every trust record computed for sealID, oldest first.
func (s *Service) History(sealID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Record(nil), s.history[sealID]...)
}

// weightedVariance computes the variance of the 0/1 verdicts around their
// weighted mean (spec.md §4.8: "variance of the 0/1 verdicts around their
// weighted mean").
func weightedVariance(verdicts []bool, weighted []WeightedResult) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	var totalWeight, weightedMean float64
	for _, w := range weighted {
		totalWeight += w.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	for _, w := range weighted {
		v := 0.0
		if w.Verdict {
			v = 1.0
		}
		weightedMean += (w.Weight / totalWeight) * v
	}

	var sumSq float64
	for _, w := range weighted {
		v := 0.0
		if w.Verdict {
			v = 1.0
		}
		d := v - weightedMean
		sumSq += (w.Weight / totalWeight) * d * d
	}
	return sumSq
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
