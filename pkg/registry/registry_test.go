package registry

import (
	"testing"

	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/crypto/bls"
)

func newTestNode(t *testing.T, nodeID string) *Node {
	t.Helper()
	_, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return &Node{
		NodeID:       nodeID,
		PublicKey:    pk.Bytes(),
		Role:         RoleVerifier,
		Capabilities: []string{"verify"},
		TrustScore:   0.9,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	n := newTestNode(t, "node-1")

	registered, err := r.Register(n)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if registered.Status != StatusActive {
		t.Errorf("expected default status active, got %v", registered.Status)
	}

	got, err := r.Get("node-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NodeID != "node-1" {
		t.Errorf("got node_id %q, want node-1", got.NodeID)
	}
}

func TestRegisterRejectsDuplicateNodeID(t *testing.T) {
	r := New()
	n := newTestNode(t, "node-1")
	if _, err := r.Register(n); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := r.Register(newTestNode(t, "node-1"))
	if err == nil {
		t.Fatal("expected duplicate node_id to be rejected")
	}
	if !coreerr.Is(err, coreerr.KindInvariantViolation) {
		t.Errorf("expected KindInvariantViolation, got %v", err)
	}
}

func TestRegisterClampsTrustScore(t *testing.T) {
	r := New()
	n := newTestNode(t, "node-1")
	n.TrustScore = 1.5

	registered, err := r.Register(n)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if registered.TrustScore != 1.0 {
		t.Errorf("trust_score = %v, want clamped to 1.0", registered.TrustScore)
	}
}

func TestActiveNodesExcludesRevoked(t *testing.T) {
	r := New()
	r.Register(newTestNode(t, "node-1"))
	r.Register(newTestNode(t, "node-2"))

	if _, err := r.Update(&Node{NodeID: "node-2", Status: StatusRevoked}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	active := r.ActiveNodes()
	if len(active) != 1 || active[0].NodeID != "node-1" {
		t.Errorf("expected only node-1 to be active, got %+v", active)
	}
}

func TestUpdateRejectsReactivationFromRevoked(t *testing.T) {
	r := New()
	r.Register(newTestNode(t, "node-1"))
	if _, err := r.Update(&Node{NodeID: "node-1", Status: StatusRevoked}); err != nil {
		t.Fatalf("Update(revoke): %v", err)
	}

	_, err := r.Update(&Node{NodeID: "node-1", Status: StatusActive})
	if err == nil {
		t.Fatal("expected reactivation from revoked to be rejected")
	}
	if !coreerr.Is(err, coreerr.KindInvariantViolation) {
		t.Errorf("expected KindInvariantViolation, got %v", err)
	}
}

func TestNodesByCapability(t *testing.T) {
	r := New()
	n1 := newTestNode(t, "node-1")
	n1.Capabilities = []string{"verify", "distribute"}
	n2 := newTestNode(t, "node-2")
	n2.Capabilities = []string{"distribute"}
	r.Register(n1)
	r.Register(n2)

	got := r.NodesByCapability("verify")
	if len(got) != 1 || got[0].NodeID != "node-1" {
		t.Errorf("expected only node-1 to have capability verify, got %+v", got)
	}
}

func TestPublicKeyResolverRoundTrip(t *testing.T) {
	r := New()
	n := newTestNode(t, "node-1")
	r.Register(n)

	pk, ok := r.PublicKey("node-1")
	if !ok {
		t.Fatal("expected to resolve public key for node-1")
	}
	if pk.Hex() == "" {
		t.Error("expected a non-empty public key hex")
	}

	if _, ok := r.PublicKey("does-not-exist"); ok {
		t.Error("expected resolution of an unknown node to fail")
	}
}
