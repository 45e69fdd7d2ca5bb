// Package registry implements the Node Registry (C4): lifecycle of
// verification nodes — identity, role, capability set, status, trust.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/crypto/bls"
)

// Role is a node's function within the verification network.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleVerifier    Role = "verifier"
	RoleObserver    Role = "observer"
)

// Status is a node's lifecycle state. Transitions move toward revoked,
// except that Update may return a degraded node to active. Revoked is
// terminal: this package offers no reactivation from it (spec.md §4.4:
// "reactivation from revoked requires an explicit operator action (out of
// scope)").
type Status string

const (
	StatusActive  Status = "active"
	StatusDegraded Status = "degraded"
	StatusRevoked Status = "revoked"
)

var validTransitions = map[Status]map[Status]bool{
	StatusActive:   {StatusDegraded: true, StatusRevoked: true},
	StatusDegraded: {StatusActive: true, StatusRevoked: true},
	StatusRevoked:  {},
}

// Node is a single verification node.
type Node struct {
	NodeID        string    `json:"node_id"`
	PublicKey     []byte    `json:"public_key"`
	Role          Role      `json:"role"`
	Capabilities  []string  `json:"capabilities"`
	Status        Status    `json:"status"`
	TrustScore    float64   `json:"trust_score"`
	NetworkAddress string   `json:"network_address"`
	Region        string    `json:"region"`
	RegisteredAt  time.Time `json:"registered_at"`
}

func (n *Node) clone() *Node {
	c := *n
	c.Capabilities = append([]string(nil), n.Capabilities...)
	c.PublicKey = append([]byte(nil), n.PublicKey...)
	return &c
}

func (n *Node) hasCapability(cap string) bool {
	for _, c := range n.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Registry owns the set of registered nodes.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register validates and inserts a new node. node_id and public_key must be
// non-empty and unique; trust_score is clamped into [0,1] rather than
// rejected, since out-of-range inputs are an upstream bug, not a reason to
// refuse an otherwise-valid registration.
func (r *Registry) Register(node *Node) (*Node, error) {
	if node.NodeID == "" || len(node.PublicKey) == 0 {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "registry.register",
			fmt.Errorf("node_id and public_key are required"))
	}
	if err := bls.ValidatePublicKeySubgroup(node.PublicKey); err != nil {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "registry.register", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[node.NodeID]; exists {
		return nil, coreerr.New(coreerr.KindInvariantViolation, "registry.register",
			fmt.Errorf("node_id %q already registered", node.NodeID))
	}
	for _, existing := range r.nodes {
		if string(existing.PublicKey) == string(node.PublicKey) {
			return nil, coreerr.New(coreerr.KindInvariantViolation, "registry.register",
				fmt.Errorf("public_key already bound to node %q", existing.NodeID))
		}
	}

	n := node.clone()
	if n.TrustScore < 0 {
		n.TrustScore = 0
	} else if n.TrustScore > 1 {
		n.TrustScore = 1
	}
	if n.Status == "" {
		n.Status = StatusActive
	}
	if n.RegisteredAt.IsZero() {
		n.RegisteredAt = time.Now()
	}

	r.nodes[n.NodeID] = n
	return n.clone(), nil
}

// Get returns a copy of the registered node, or a not-found error.
func (r *Registry) Get(nodeID string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "registry.get",
			fmt.Errorf("node %q not found", nodeID))
	}
	return n.clone(), nil
}

// Update applies status, capability, trust-score, and address changes to an
// existing node. A status transition outside validTransitions is rejected
// as a fatal invariant violation rather than silently clamped.
func (r *Registry) Update(node *Node) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.nodes[node.NodeID]
	if !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "registry.update",
			fmt.Errorf("node %q not found", node.NodeID))
	}

	if node.Status != "" && node.Status != existing.Status {
		if !validTransitions[existing.Status][node.Status] {
			return nil, coreerr.New(coreerr.KindInvariantViolation, "registry.update",
				fmt.Errorf("status transition %s -> %s is not permitted", existing.Status, node.Status))
		}
		existing.Status = node.Status
	}

	if node.TrustScore != 0 {
		trust := node.TrustScore
		if trust < 0 {
			trust = 0
		} else if trust > 1 {
			trust = 1
		}
		existing.TrustScore = trust
	}
	if node.Capabilities != nil {
		existing.Capabilities = append([]string(nil), node.Capabilities...)
	}
	if node.NetworkAddress != "" {
		existing.NetworkAddress = node.NetworkAddress
	}
	if node.Region != "" {
		existing.Region = node.Region
	}

	return existing.clone(), nil
}

// ActiveNodes returns every node with status "active". Revoked nodes are
// excluded (spec.md boundary behavior).
func (r *Registry) ActiveNodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Node
	for _, n := range r.nodes {
		if n.Status == StatusActive {
			out = append(out, n.clone())
		}
	}
	return out
}

// NodesByCapability returns every node (of any status) advertising cap.
func (r *Registry) NodesByCapability(cap string) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Node
	for _, n := range r.nodes {
		if n.hasCapability(cap) {
			out = append(out, n.clone())
		}
	}
	return out
}

// PublicKey implements consensus.PublicKeyResolver, parsing a node's stored
// raw public key bytes into a BLS public key on demand.
func (r *Registry) PublicKey(nodeID string) (*bls.PublicKey, bool) {
	r.mu.RLock()
	n, ok := r.nodes[nodeID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	pk, err := bls.PublicKeyFromBytes(n.PublicKey)
	if err != nil {
		return nil, false
	}
	return pk, true
}
