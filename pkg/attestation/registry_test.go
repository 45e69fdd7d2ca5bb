package attestation

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, selfID string) (*Registry, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	r, err := New(&Config{SelfID: selfID, PrivateKey: priv, TTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, pub
}

func TestIssueClaimIsImmediatelySatisfied(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")

	if _, err := r.IssueClaim("node-a", "kyc-verified"); err != nil {
		t.Fatalf("IssueClaim: %v", err)
	}

	ok, reason := r.Satisfies("node-a", []string{"kyc-verified"})
	if !ok {
		t.Fatalf("expected satisfied, got reason %q", reason)
	}
}

func TestSatisfiesFailsWhenTypeMissing(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")
	r.IssueClaim("node-a", "kyc-verified")

	ok, reason := r.Satisfies("node-a", []string{"kyc-verified", "sanctions-cleared"})
	if ok {
		t.Fatal("expected unsatisfied: missing sanctions-cleared claim")
	}
	if reason == "" {
		t.Error("expected a non-empty reason")
	}
}

func TestSatisfiesWithNoRequirementsAlwaysPasses(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")

	ok, _ := r.Satisfies("node-a", nil)
	if !ok {
		t.Fatal("expected empty requirement set to always satisfy")
	}
}

func TestRecordClaimRejectsUntrustedAttestor(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")

	_, otherPriv, _ := ed25519.GenerateKey(nil)
	forged := &Claim{SourceID: "node-a", Type: "kyc-verified", AttestorID: "validator-2", IssuedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour)}
	forged.Signature = ed25519.Sign(otherPriv, forged.message())

	if r.recordClaim(forged) {
		t.Fatal("expected claim from unregistered attestor to be rejected")
	}
	ok, _ := r.Satisfies("node-a", []string{"kyc-verified"})
	if ok {
		t.Fatal("rejected claim must not satisfy the requirement")
	}
}

func TestRecordClaimAcceptsTrustedPeer(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")
	peerPub, peerPriv, _ := ed25519.GenerateKey(nil)
	r.TrustPeer("validator-2", peerPub)

	claim := &Claim{SourceID: "node-a", Type: "kyc-verified", AttestorID: "validator-2", IssuedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour)}
	claim.Signature = ed25519.Sign(peerPriv, claim.message())

	if !r.recordClaim(claim) {
		t.Fatal("expected claim from trusted peer to be accepted")
	}
}

func TestExpiredClaimDoesNotSatisfy(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")
	claim := &Claim{SourceID: "node-a", Type: "kyc-verified", AttestorID: "validator-1", IssuedAt: time.Now().UTC().Add(-2 * time.Hour), ExpiresAt: time.Now().UTC().Add(-time.Hour)}
	claim.Signature = ed25519.Sign(r.privateKey, claim.message())
	r.recordClaim(claim)

	ok, _ := r.Satisfies("node-a", []string{"kyc-verified"})
	if ok {
		t.Fatal("expired claim must not satisfy the requirement")
	}
}

func TestCleanupExpiredClaimsRemovesStaleEntries(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")
	stale := &Claim{SourceID: "node-a", Type: "kyc-verified", AttestorID: "validator-1", IssuedAt: time.Now().UTC().Add(-2 * time.Hour), ExpiresAt: time.Now().UTC().Add(-time.Hour)}
	stale.Signature = ed25519.Sign(r.privateKey, stale.message())
	r.recordClaim(stale)

	removed := r.CleanupExpiredClaims()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(r.ClaimsFor("node-a")) != 0 {
		t.Fatal("expected no claims remaining for node-a")
	}
}

func TestHandleAttestationRequestGrantsWhenLocallySatisfied(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")
	r.IssueClaim("node-a", "kyc-verified")

	resp := r.HandleAttestationRequest(&AttestationRequest{SourceID: "node-a", Type: "kyc-verified"})
	if !resp.Granted || resp.Claim == nil {
		t.Fatalf("expected request to be granted with a claim, got %+v", resp)
	}
}

func TestHandleAttestationRequestDeniesWhenUnknown(t *testing.T) {
	r, _ := newTestRegistry(t, "validator-1")

	resp := r.HandleAttestationRequest(&AttestationRequest{SourceID: "node-z", Type: "kyc-verified"})
	if resp.Granted {
		t.Fatal("expected request for unknown source to be denied")
	}
}

func TestRequestAttestationsRecordsClaimsFromPeers(t *testing.T) {
	peer, peerPub := newTestRegistry(t, "validator-2")
	peer.IssueClaim("node-a", "kyc-verified")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var ar AttestationRequest
		if err := json.NewDecoder(req.Body).Decode(&ar); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := peer.HandleAttestationRequest(&ar)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	r, _ := newTestRegistry(t, "validator-1")
	r.TrustPeer("validator-2", peerPub)
	r.UpdatePeers([]string{server.URL})

	granted := r.RequestAttestations(context.Background(), "node-a", "kyc-verified")
	if granted != 1 {
		t.Fatalf("granted = %d, want 1", granted)
	}
	ok, _ := r.Satisfies("node-a", []string{"kyc-verified"})
	if !ok {
		t.Fatal("expected node-a to satisfy kyc-verified after peer attestation")
	}
}
