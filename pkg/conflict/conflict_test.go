package conflict

import "testing"

func TestClassifyAssignsFixedSeverity(t *testing.T) {
	cases := []struct {
		typ      Type
		severity Severity
	}{
		{TypeSchemaViolation, SeverityHigh},
		{TypeTrustThreshold, SeverityMedium},
		{TypeTetherFailure, SeverityCritical},
		{TypeNone, SeverityLow},
	}
	for _, c := range cases {
		rec, err := Classify(c.typ, nil, nil)
		if err != nil {
			t.Fatalf("Classify(%s): %v", c.typ, err)
		}
		if rec.Severity != c.severity {
			t.Errorf("Classify(%s).Severity = %v, want %v", c.typ, rec.Severity, c.severity)
		}
		if rec.ResolutionStatus != ResolutionUnresolved {
			t.Errorf("expected unresolved status by default, got %v", rec.ResolutionStatus)
		}
	}
}

func TestClassifyRejectsUpstreamTypes(t *testing.T) {
	if _, err := Classify(TypeAttestationMismatch, nil, nil); err == nil {
		t.Error("expected Classify to reject attestation_mismatch (caller-severity type)")
	}
}

func TestNoneIsNeverSuppressed(t *testing.T) {
	rec := None()
	if rec.Type != TypeNone {
		t.Errorf("None().Type = %v, want none", rec.Type)
	}
	if rec.ConflictID == "" {
		t.Error("expected a stable conflict_id even for a none record")
	}
	if rec.Evidence == nil || rec.AffectedComponents == nil {
		t.Error("expected evidence/affected_components to be normalized to empty slices, not nil")
	}
}

func TestNewAllowsUpstreamSeverityOverride(t *testing.T) {
	rec := New(TypeAttestationMismatch, SeverityHigh, []string{"c10"}, []string{"mismatch on node n1"}, nil)
	if rec.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", rec.Severity)
	}
	if len(rec.AffectedComponents) != 1 || rec.AffectedComponents[0] != "c10" {
		t.Errorf("unexpected affected_components: %v", rec.AffectedComponents)
	}
}
