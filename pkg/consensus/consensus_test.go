package consensus

import (
	"errors"
	"math"
	"testing"

	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/crypto/bls"
)

type fakeRegistry struct {
	keys map[string]*bls.PrivateKey
}

func newFakeRegistry(nodeIDs ...string) *fakeRegistry {
	r := &fakeRegistry{keys: make(map[string]*bls.PrivateKey)}
	for _, id := range nodeIDs {
		sk, _, err := bls.GenerateKeyPair()
		if err != nil {
			panic(err)
		}
		r.keys[id] = sk
	}
	return r
}

func (r *fakeRegistry) PublicKey(nodeID string) (*bls.PublicKey, bool) {
	sk, ok := r.keys[nodeID]
	if !ok {
		return nil, false
	}
	return sk.PublicKey(), true
}

func (r *fakeRegistry) sign(nodeID, sealID, consensusID string) []byte {
	return SignVerdict(r.keys[nodeID], sealID, consensusID)
}

func TestScenarioUnanimousVerify(t *testing.T) {
	registry := newFakeRegistry("n1", "n2", "n3")
	svc := NewService(registry)

	rec, err := svc.Create("seal-1", 0.67, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, nodeID := range []string{"n1", "n2", "n3"} {
		sig := registry.sign(nodeID, rec.SealID, rec.ConsensusID)
		rec, err = svc.AddResult(rec.ConsensusID, nodeID, true, sig)
		if err != nil {
			t.Fatalf("AddResult(%s): %v", nodeID, err)
		}
	}

	if !rec.Result {
		t.Error("expected result=true")
	}
	if rec.PositiveRatio != 1.0 {
		t.Errorf("positive_ratio = %v, want 1.0", rec.PositiveRatio)
	}
	if len(rec.ThresholdSignature) == 0 {
		t.Error("expected a threshold signature to be present")
	}
	if rec.Status != StatusSealed {
		t.Errorf("status = %v, want sealed", rec.Status)
	}

	ok, err := VerifyThresholdSignature(rec.SealID, rec.ConsensusID, rec.ThresholdSignature,
		[]string{"n1", "n2", "n3"}, registry)
	if err != nil {
		t.Fatalf("VerifyThresholdSignature: %v", err)
	}
	if !ok {
		t.Error("expected threshold signature to verify")
	}

	if got := svc.VerificationStatus(rec.SealID); got != VerificationVerified {
		t.Errorf("VerificationStatus = %v, want verified", got)
	}
}

func TestScenarioSplitVerdictConflictResolution(t *testing.T) {
	registry := newFakeRegistry("n1", "n2", "n3", "n4", "n5")
	svc := NewService(registry)

	rec, err := svc.Create("seal-2", 0.67, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	verdicts := map[string]bool{"n1": true, "n2": true, "n3": true, "n4": false, "n5": false}
	for _, nodeID := range []string{"n1", "n2", "n3", "n4", "n5"} {
		sig := registry.sign(nodeID, rec.SealID, rec.ConsensusID)
		rec, err = svc.AddResult(rec.ConsensusID, nodeID, verdicts[nodeID], sig)
		if err != nil {
			t.Fatalf("AddResult(%s): %v", nodeID, err)
		}
	}

	if math.Abs(rec.PositiveRatio-0.6) > 1e-9 {
		t.Errorf("positive_ratio = %v, want 0.6", rec.PositiveRatio)
	}
	if rec.Result {
		t.Error("expected result=false (0.6 < 0.67)")
	}
	if len(rec.ThresholdSignature) == 0 {
		t.Error("expected a threshold signature: |participants|=5 >= ceil(0.67*5)=4, regardless of split verdict")
	}
	ok, err := VerifyThresholdSignature(rec.SealID, rec.ConsensusID, rec.ThresholdSignature,
		[]string{"n1", "n2", "n3", "n4", "n5"}, registry)
	if err != nil {
		t.Fatalf("VerifyThresholdSignature: %v", err)
	}
	if !ok {
		t.Error("expected threshold signature over all participants to verify")
	}

	conflict, err := svc.DetectConflicts(rec.ConsensusID)
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if !conflict {
		t.Fatal("expected a conflict to be detected")
	}

	resolved, err := svc.ResolveConflict(rec.ConsensusID, ResolutionMajorityVote, "3/5 positive")
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if resolved.Result {
		t.Error("resolving a conflict must not mutate result")
	}
	if resolved.ConflictResolution == nil || !resolved.ConflictResolution.Resolved {
		t.Error("expected conflict_resolution.resolved=true")
	}
	if resolved.ConflictResolution.Method != ResolutionMajorityVote {
		t.Errorf("resolution method = %v, want majority_vote", resolved.ConflictResolution.Method)
	}
}

func TestAddResultRejectsDoubleSubmission(t *testing.T) {
	registry := newFakeRegistry("n1", "n2")
	svc := NewService(registry)

	rec, _ := svc.Create("seal-3", 0.67, 2)
	sig := registry.sign("n1", rec.SealID, rec.ConsensusID)

	if _, err := svc.AddResult(rec.ConsensusID, "n1", true, sig); err != nil {
		t.Fatalf("first AddResult: %v", err)
	}
	_, err := svc.AddResult(rec.ConsensusID, "n1", true, sig)
	if err == nil {
		t.Fatal("expected double submission from n1 to be rejected")
	}
	if !coreerr.Is(err, coreerr.KindInvariantViolation) {
		t.Errorf("expected KindInvariantViolation, got %v", err)
	}
}

func TestAddResultRejectedAfterSealed(t *testing.T) {
	registry := newFakeRegistry("n1", "n2")
	svc := NewService(registry)

	rec, _ := svc.Create("seal-4", 0.6, 2)
	for _, nodeID := range []string{"n1", "n2"} {
		sig := registry.sign(nodeID, rec.SealID, rec.ConsensusID)
		var err error
		rec, err = svc.AddResult(rec.ConsensusID, nodeID, true, sig)
		if err != nil {
			t.Fatalf("AddResult(%s): %v", nodeID, err)
		}
	}
	if rec.Status != StatusSealed {
		t.Fatalf("expected record to be sealed, got %v", rec.Status)
	}

	_, err := svc.AddResult(rec.ConsensusID, "n3", false, nil)
	if err == nil {
		t.Fatal("expected add_result after SEALED to be rejected")
	}
	var wrapped *coreerr.Error
	if !errors.As(err, &wrapped) || wrapped.Kind != coreerr.KindInvariantViolation {
		t.Errorf("expected KindInvariantViolation, got %v", err)
	}
}

func TestResolveConflictOnUnknownRecordIsNoOp(t *testing.T) {
	svc := NewService(newFakeRegistry())

	rec, err := svc.ResolveConflict("does-not-exist", ResolutionMajorityVote, "n/a")
	if err != nil {
		t.Fatalf("expected no error for resolving a non-existent conflict, got %v", err)
	}
	if rec.ConflictResolution == nil || rec.ConflictResolution.Resolved {
		t.Error("expected a synthesized pending, unresolved record")
	}
}

func TestVerificationStatusNotVerifiedForUnknownSeal(t *testing.T) {
	svc := NewService(newFakeRegistry())
	if got := svc.VerificationStatus("no-such-seal"); got != VerificationNotVerified {
		t.Errorf("VerificationStatus = %v, want not_verified", got)
	}
}

func TestCreateRejectsThresholdOutOfRange(t *testing.T) {
	svc := NewService(newFakeRegistry())
	if _, err := svc.Create("seal-5", 0.5, 3); err == nil {
		t.Error("expected threshold of exactly 0.5 to be rejected (must be > 0.5)")
	}
	if _, err := svc.Create("seal-5", 1.5, 3); err == nil {
		t.Error("expected threshold > 1.0 to be rejected")
	}
}

func TestRequiredSignatureCountUsesCeiling(t *testing.T) {
	if got := RequiredSignatureCount(0.67, 3); got != 3 {
		t.Errorf("RequiredSignatureCount(0.67, 3) = %d, want 3 (ceil(2.01))", got)
	}
	if got := RequiredSignatureCount(0.5, 4); got != 2 {
		t.Errorf("RequiredSignatureCount(0.5, 4) = %d, want 2", got)
	}
}
