package trust

import (
	"math"
	"testing"
	"time"

	"github.com/promethios/trust-fabric/pkg/conflict"
	"github.com/promethios/trust-fabric/pkg/consensus"
)

func participant(nodeID string, verdict bool) consensus.Participant {
	return consensus.Participant{NodeID: nodeID, Verdict: verdict, Timestamp: time.Now()}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestAggregateScenario1UnanimousVerify(t *testing.T) {
	rec := &consensus.Record{
		SealID:      "seal-1",
		ConsensusID: "cons-1",
		Participants: []consensus.Participant{
			participant("n1", true),
			participant("n2", true),
			participant("n3", true),
		},
		Result: true,
	}
	nodeTrust := map[string]float64{"n1": 0.9, "n2": 0.9, "n3": 0.9}

	s := New()
	tr, err := s.Aggregate(rec, nodeTrust, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !almostEqual(tr.TrustScore, 1.0) {
		t.Errorf("trust_score = %v, want 1.0", tr.TrustScore)
	}
}

func TestAggregateScenario2SplitVerdict(t *testing.T) {
	rec := &consensus.Record{
		SealID:      "seal-2",
		ConsensusID: "cons-2",
		Participants: []consensus.Participant{
			participant("n1", true),
			participant("n2", true),
			participant("n3", true),
			participant("n4", false),
			participant("n5", false),
		},
		Result: false,
	}
	nodeTrust := map[string]float64{"n1": 0.9, "n2": 0.9, "n3": 0.8, "n4": 0.6, "n5": 0.5}

	s := New()
	tr, err := s.Aggregate(rec, nodeTrust, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := 2.6 / 3.7
	if !almostEqual(tr.TrustScore, want) {
		t.Errorf("trust_score = %v, want %v", tr.TrustScore, want)
	}
	if !almostEqual(tr.AgreementRatio, 0.6) {
		t.Errorf("agreement_ratio = %v, want 0.6", tr.AgreementRatio)
	}
}

func TestAggregateDefaultsMissingNodeTrust(t *testing.T) {
	rec := &consensus.Record{
		SealID:      "seal-3",
		ConsensusID: "cons-3",
		Participants: []consensus.Participant{
			participant("n1", true),
			participant("n2", false),
		},
	}

	s := New()
	tr, err := s.Aggregate(rec, nil, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !almostEqual(tr.TotalWeight, 1.0) {
		t.Errorf("expected both missing node trusts to default to 0.5, total_weight = %v", tr.TotalWeight)
	}
	if !almostEqual(tr.TrustScore, 0.5) {
		t.Errorf("trust_score = %v, want 0.5", tr.TrustScore)
	}
}

func TestHistoryIsAppendOnlyAndCurrentIsLatest(t *testing.T) {
	s := New()
	rec := &consensus.Record{SealID: "seal-4", ConsensusID: "cons-4", Participants: []consensus.Participant{participant("n1", true)}}

	first, _ := s.Aggregate(rec, map[string]float64{"n1": 0.9}, nil)
	second, _ := s.Aggregate(rec, map[string]float64{"n1": 0.1}, nil)

	history := s.History("seal-4")
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	current, err := s.Current("seal-4")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.TrustRecordID != second.TrustRecordID {
		t.Error("expected Current to return the most recently appended record")
	}
	if current.TrustRecordID == first.TrustRecordID {
		t.Error("expected the first record to remain in history, not be overwritten")
	}
}

func TestAggregateAppliesSeverityPenalty(t *testing.T) {
	rec := &consensus.Record{
		SealID:      "seal-5",
		ConsensusID: "cons-5",
		Participants: []consensus.Participant{
			participant("n1", true),
			participant("n2", true),
		},
	}
	conflictMeta := conflict.New(conflict.TypeAttestationMismatch, conflict.SeverityHigh, nil, nil, nil)

	s := New()
	tr, err := s.Aggregate(rec, map[string]float64{"n1": 0.9, "n2": 0.9}, conflictMeta)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !almostEqual(tr.TrustScore, 0.6) {
		t.Errorf("trust_score = %v, want 1.0 - 0.4 = 0.6 after high-severity penalty", tr.TrustScore)
	}
}

func TestCurrentFailsForUnknownSeal(t *testing.T) {
	s := New()
	if _, err := s.Current("does-not-exist"); err == nil {
		t.Fatal("expected Current on an unknown seal to fail")
	}
}
