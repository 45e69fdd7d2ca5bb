// Package topology implements the Topology Manager (C5): the current
// network graph over registered nodes, with transactional add/remove/update.
package topology

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promethios/trust-fabric/pkg/coreerr"
)

// ConnectionStatus is the health of an edge between two nodes.
type ConnectionStatus string

const (
	ConnectionUp   ConnectionStatus = "up"
	ConnectionDown ConnectionStatus = "down"
)

// Connection is an undirected edge between two nodes (trust direction lives
// in pkg/propagation, not here).
type Connection struct {
	Source      string           `json:"source"`
	Target      string           `json:"target"`
	LatencyHint float64          `json:"latency_hint"`
	Status      ConnectionStatus `json:"status"`
}

// Topology is the network graph at a point in time.
type Topology struct {
	TopologyID  string       `json:"topology_id"`
	Nodes       []string     `json:"nodes"`
	Connections []Connection `json:"connections"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (t *Topology) clone() *Topology {
	c := *t
	c.Nodes = append([]string(nil), t.Nodes...)
	c.Connections = append([]Connection(nil), t.Connections...)
	return &c
}

func (t *Topology) hasNode(nodeID string) bool {
	for _, n := range t.Nodes {
		if n == nodeID {
			return true
		}
	}
	return false
}

// validate checks the invariant that connections reference only existing
// nodes (spec.md §3: "connections references only existing nodes").
func (t *Topology) validate() error {
	for _, c := range t.Connections {
		if !t.hasNode(c.Source) || !t.hasNode(c.Target) {
			return fmt.Errorf("connection %s-%s references a node not in the topology", c.Source, c.Target)
		}
	}
	return nil
}

// Manager owns the current topology and its history. Every mutating
// operation re-validates the proposed topology before committing it;
// validation failure leaves the prior topology intact (spec.md §4.5).
type Manager struct {
	mu      sync.Mutex
	current *Topology
	history []*Topology
}

// New constructs a manager with no current topology.
func New() *Manager {
	return &Manager{}
}

// CreateTopology builds a complete graph over nodes with placeholder
// latencies and installs it as current, archiving whatever was current
// before.
func (m *Manager) CreateTopology(nodes []string) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "topology.create_topology",
			fmt.Errorf("nodes must not be empty"))
	}

	var connections []Connection
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			connections = append(connections, Connection{
				Source:      nodes[i],
				Target:      nodes[j],
				LatencyHint: 0,
				Status:      ConnectionUp,
			})
		}
	}

	t := &Topology{
		TopologyID:  uuid.NewString(),
		Nodes:       append([]string(nil), nodes...),
		Connections: connections,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.history = append(m.history, m.current)
	}
	m.current = t
	return t.clone(), nil
}

// Current returns a copy of the current topology, or an error if none exists.
func (m *Manager) Current() (*Topology, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, coreerr.New(coreerr.KindNotFound, "topology.current",
			fmt.Errorf("no topology has been created"))
	}
	return m.current.clone(), nil
}

// AddNode adds a node to the current topology, connected to every existing
// node with a placeholder latency. The change is validated against a
// candidate copy before it is committed.
func (m *Manager) AddNode(nodeID string) (*Topology, error) {
	return m.mutate("topology.add_node", func(candidate *Topology) error {
		if candidate.hasNode(nodeID) {
			return fmt.Errorf("node %q is already present in the topology", nodeID)
		}
		for _, existing := range candidate.Nodes {
			candidate.Connections = append(candidate.Connections, Connection{
				Source: existing, Target: nodeID, LatencyHint: 0, Status: ConnectionUp,
			})
		}
		candidate.Nodes = append(candidate.Nodes, nodeID)
		return nil
	})
}

// RemoveNode removes a node and every edge incident to it.
func (m *Manager) RemoveNode(nodeID string) (*Topology, error) {
	return m.mutate("topology.remove_node", func(candidate *Topology) error {
		if !candidate.hasNode(nodeID) {
			return fmt.Errorf("node %q is not present in the topology", nodeID)
		}
		nodes := make([]string, 0, len(candidate.Nodes))
		for _, n := range candidate.Nodes {
			if n != nodeID {
				nodes = append(nodes, n)
			}
		}
		conns := make([]Connection, 0, len(candidate.Connections))
		for _, c := range candidate.Connections {
			if c.Source != nodeID && c.Target != nodeID {
				conns = append(conns, c)
			}
		}
		candidate.Nodes = nodes
		candidate.Connections = conns
		return nil
	})
}

// UpdateNode updates the status of every edge incident to nodeID.
func (m *Manager) UpdateNode(nodeID string, status ConnectionStatus) (*Topology, error) {
	return m.mutate("topology.update_node", func(candidate *Topology) error {
		if !candidate.hasNode(nodeID) {
			return fmt.Errorf("node %q is not present in the topology", nodeID)
		}
		for i, c := range candidate.Connections {
			if c.Source == nodeID || c.Target == nodeID {
				candidate.Connections[i].Status = status
			}
		}
		return nil
	})
}

// mutate applies fn to a clone of the current topology, re-validates the
// result, and commits it only if both fn and validation succeed — leaving
// the prior topology intact on any failure.
func (m *Manager) mutate(op string, fn func(candidate *Topology) error) (*Topology, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, coreerr.New(coreerr.KindNotFound, op, fmt.Errorf("no topology has been created"))
	}

	candidate := m.current.clone()
	if err := fn(candidate); err != nil {
		return nil, coreerr.New(coreerr.KindInvariantViolation, op, err)
	}
	if err := candidate.validate(); err != nil {
		return nil, coreerr.New(coreerr.KindInvariantViolation, op, err)
	}

	m.history = append(m.history, m.current)
	m.current = candidate
	return candidate.clone(), nil
}
