package seal

import (
	"testing"

	"github.com/promethios/trust-fabric/pkg/conflict"
	"github.com/promethios/trust-fabric/pkg/coreerr"
)

func sampleOutputs() []Output {
	return []Output{
		{ID: "out-1", Type: "execution", PayloadBytes: []byte("a")},
		{ID: "out-2", Type: "execution", PayloadBytes: []byte("b")},
		{ID: "out-3", Type: "execution", PayloadBytes: []byte("c")},
	}
}

func TestCreateSealThenVerifyRoundTrip(t *testing.T) {
	gen, err := NewGenerator(SupportedContractVersion, SupportedPhaseID)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	outputs := sampleOutputs()
	s, err := gen.CreateSeal(outputs, nil)
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	if s.ConflictMeta.Type != conflict.TypeNone {
		t.Errorf("expected synthesized none conflict record, got %v", s.ConflictMeta.Type)
	}
	if len(s.SealedEntries) != 3 {
		t.Fatalf("expected 3 sealed entries, got %d", len(s.SealedEntries))
	}
	if s.PreviousSealID != "" {
		t.Error("expected no previous_seal_id for the first seal from a fresh generator")
	}

	ok, err := VerifySeal(s, outputs)
	if err != nil {
		t.Fatalf("VerifySeal: %v", err)
	}
	if !ok {
		t.Error("expected verify_seal(create_seal(outs), outs) = true")
	}
}

func TestVerifySealFailsOnTamperedOutputs(t *testing.T) {
	gen, _ := NewGenerator(SupportedContractVersion, SupportedPhaseID)
	outputs := sampleOutputs()
	s, err := gen.CreateSeal(outputs, nil)
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	tampered := append([]Output(nil), outputs...)
	tampered[0].PayloadBytes = []byte("tampered")

	ok, err := VerifySeal(s, tampered)
	if err != nil {
		t.Fatalf("VerifySeal: %v", err)
	}
	if ok {
		t.Error("expected verification to fail against tampered outputs")
	}
}

func TestCreateSealChainsPreviousSealID(t *testing.T) {
	gen, _ := NewGenerator(SupportedContractVersion, SupportedPhaseID)

	first, err := gen.CreateSeal(sampleOutputs(), nil)
	if err != nil {
		t.Fatalf("CreateSeal(first): %v", err)
	}
	second, err := gen.CreateSeal(sampleOutputs(), nil)
	if err != nil {
		t.Fatalf("CreateSeal(second): %v", err)
	}

	if second.PreviousSealID != first.SealID {
		t.Errorf("previous_seal_id = %q, want %q", second.PreviousSealID, first.SealID)
	}
}

func TestCreateSealRejectsEmptyOutputs(t *testing.T) {
	gen, _ := NewGenerator(SupportedContractVersion, SupportedPhaseID)
	_, err := gen.CreateSeal(nil, nil)
	if err == nil {
		t.Fatal("expected empty outputs to be rejected")
	}
	if !coreerr.Is(err, coreerr.KindSchemaViolation) {
		t.Errorf("expected KindSchemaViolation, got %v", err)
	}
}

func TestCreateSealRejectsMissingOutputID(t *testing.T) {
	gen, _ := NewGenerator(SupportedContractVersion, SupportedPhaseID)
	_, err := gen.CreateSeal([]Output{{Type: "x"}}, nil)
	if err == nil {
		t.Fatal("expected a missing output id to be rejected")
	}
}

func TestNewGeneratorRejectsUnsupportedTether(t *testing.T) {
	_, err := NewGenerator("v2025.05.19", SupportedPhaseID)
	if err == nil {
		t.Fatal("expected construction with an unsupported contract version to fail")
	}
	if !coreerr.Is(err, coreerr.KindTetherFailure) {
		t.Errorf("expected KindTetherFailure, got %v", err)
	}
}

func TestGetSealChainAndVerifySealChain(t *testing.T) {
	gen, _ := NewGenerator(SupportedContractVersion, SupportedPhaseID)

	store := make(map[string]*Seal)
	var last *Seal
	for i := 0; i < 3; i++ {
		s, err := gen.CreateSeal(sampleOutputs(), nil)
		if err != nil {
			t.Fatalf("CreateSeal: %v", err)
		}
		store[s.SealID] = s
		last = s
	}

	chain := GetSealChain(last.SealID, func(id string) (*Seal, bool) {
		s, ok := store[id]
		return s, ok
	})
	if len(chain) != 3 {
		t.Fatalf("expected a chain of 3 seals, got %d", len(chain))
	}

	ok, err := VerifySealChain(chain)
	if err != nil {
		t.Fatalf("VerifySealChain: %v", err)
	}
	if !ok {
		t.Error("expected a correctly linked chain to verify")
	}
}

func TestVerifySealChainRejectsBrokenLink(t *testing.T) {
	gen, _ := NewGenerator(SupportedContractVersion, SupportedPhaseID)

	first, _ := gen.CreateSeal(sampleOutputs(), nil)
	second, _ := gen.CreateSeal(sampleOutputs(), nil)
	second.PreviousSealID = "not-the-first-seal-id"

	ok, err := VerifySealChain([]*Seal{second, first})
	if err != nil {
		t.Fatalf("VerifySealChain: %v", err)
	}
	if ok {
		t.Error("expected a broken previous_seal_id link to fail verification")
	}
}
