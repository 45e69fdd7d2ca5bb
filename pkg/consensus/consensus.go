package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promethios/trust-fabric/pkg/coreerr"
)

// Service owns the set of consensus records. add_result is serialized per
// record, matching the ordering guarantee in spec §5: invariants K1-K3 must
// hold under concurrent submission.
type Service struct {
	mu          sync.Mutex
	records     map[string]*Record
	sealRecords map[string][]string // sealID -> consensusIDs, in creation order
	resolver    PublicKeyResolver
}

// NewService constructs an empty consensus service. resolver supplies the
// BLS public key for each node ID, backed by the node registry (C4).
func NewService(resolver PublicKeyResolver) *Service {
	return &Service{
		records:     make(map[string]*Record),
		sealRecords: make(map[string][]string),
		resolver:    resolver,
	}
}

// Create opens a new consensus record for sealID with the given threshold
// and active node count (used to derive the required signature count, K3).
func (s *Service) Create(sealID string, threshold float64, activeNodes int) (*Record, error) {
	if threshold <= 0.5 || threshold > 1.0 {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "consensus.create",
			fmt.Errorf("threshold %v must lie in (0.5, 1.0]", threshold))
	}

	rec := &Record{
		ConsensusID: uuid.NewString(),
		SealID:      sealID,
		Status:      StatusCreated,
		Threshold:   threshold,
		ActiveNodes: activeNodes,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ConsensusID] = rec
	s.sealRecords[sealID] = append(s.sealRecords[sealID], rec.ConsensusID)

	return rec.Clone(), nil
}

// AddResult appends nodeID's verdict to the record iff the node has not
// already voted (K1). A repeated submission is a fatal client error, not a
// silent no-op. Adding to a SEALED record is rejected. The record seals once
// the threshold signature exists, result is true, and every active node has
// reported.
func (s *Service) AddResult(consensusID, nodeID string, verdict bool, signature []byte) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[consensusID]
	if !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "consensus.add_result",
			fmt.Errorf("consensus record %q not found", consensusID))
	}

	if rec.Status == StatusSealed {
		return nil, coreerr.New(coreerr.KindInvariantViolation, "consensus.add_result",
			fmt.Errorf("consensus record %q is already sealed", consensusID))
	}

	for _, p := range rec.Participants {
		if p.NodeID == nodeID {
			return nil, coreerr.New(coreerr.KindInvariantViolation, "consensus.add_result",
				fmt.Errorf("node %q has already submitted a verdict for %q", nodeID, consensusID))
		}
	}

	rec.Participants = append(rec.Participants, Participant{
		NodeID:    nodeID,
		Verdict:   verdict,
		Signature: signature,
		Timestamp: time.Now(),
	})
	if rec.Status == StatusCreated {
		rec.Status = StatusCollecting
	}

	positives := 0
	for _, p := range rec.Participants {
		if p.Verdict {
			positives++
		}
	}
	rec.PositiveRatio = float64(positives) / float64(len(rec.Participants))
	rec.Result = rec.PositiveRatio >= rec.Threshold

	required := RequiredSignatureCount(rec.Threshold, rec.ActiveNodes)
	if len(rec.Participants) >= required && required > 0 {
		if combined, err := CombineThresholdSignature(rec.SealID, rec.ConsensusID, rec.Participants, s.resolver); err == nil {
			rec.ThresholdSignature = combined
			if rec.Result && len(rec.Participants) >= rec.ActiveNodes {
				rec.Status = StatusSealed
			}
		}
	}

	return rec.Clone(), nil
}

// DetectConflicts reports whether rec has both positive and negative
// verdicts among at least two participants. As a side effect it initializes
// a pending ConflictResolution (if one is not already present) and, the
// first time a conflict is observed, transitions the record to CONFLICTED.
func (s *Service) DetectConflicts(consensusID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[consensusID]
	if !ok {
		return false, coreerr.New(coreerr.KindNotFound, "consensus.detect_conflicts",
			fmt.Errorf("consensus record %q not found", consensusID))
	}

	conflict := hasConflict(rec.Participants)
	if conflict {
		if rec.ConflictResolution == nil {
			rec.ConflictResolution = &ConflictResolution{Method: ResolutionNone}
		}
		if rec.Status != StatusSealed {
			rec.Status = StatusConflicted
		}
	}
	return conflict, nil
}

func hasConflict(participants []Participant) bool {
	if len(participants) < 2 {
		return false
	}
	var sawTrue, sawFalse bool
	for _, p := range participants {
		if p.Verdict {
			sawTrue = true
		} else {
			sawFalse = true
		}
	}
	return sawTrue && sawFalse
}

// ResolveConflict records the chosen resolution for consensusID's conflict.
// It never mutates Result: a majority-vote override, if desired, must be
// applied by replaying add_result semantics at a higher layer. Resolving a
// conflict that does not exist is a no-op that returns a synthesized
// pending record rather than an error.
func (s *Service) ResolveConflict(consensusID string, method ResolutionMethod, details string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[consensusID]
	if !ok {
		return &Record{
			ConsensusID: consensusID,
			Status:      StatusCreated,
			ConflictResolution: &ConflictResolution{
				Method:   ResolutionNone,
				Resolved: false,
			},
		}, nil
	}

	if rec.ConflictResolution == nil {
		return rec.Clone(), nil
	}

	rec.ConflictResolution.Method = method
	rec.ConflictResolution.Details = details
	rec.ConflictResolution.Resolved = method != ResolutionNone
	rec.ConflictResolution.Timestamp = time.Now()

	if rec.ConflictResolution.Resolved && rec.Status == StatusConflicted {
		rec.Status = StatusSealed
	}

	return rec.Clone(), nil
}

// VerificationStatus reduces over every consensus record for sealID,
// returning the status of the most recently created one.
func (s *Service) VerificationStatus(sealID string) VerificationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.sealRecords[sealID]
	if len(ids) == 0 {
		return VerificationNotVerified
	}

	rec := s.records[ids[len(ids)-1]]
	switch {
	case rec.Status == StatusConflicted:
		return VerificationConflict
	case rec.Status == StatusSealed && rec.Result:
		return VerificationVerified
	case rec.Status == StatusSealed && !rec.Result:
		return VerificationNotVerified
	default:
		return VerificationPending
	}
}

// Get returns a copy of the consensus record by ID.
func (s *Service) Get(consensusID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[consensusID]
	if !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "consensus.get",
			fmt.Errorf("consensus record %q not found", consensusID))
	}
	return rec.Clone(), nil
}
