package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/promethios/trust-fabric/pkg/boundary"
	"github.com/promethios/trust-fabric/pkg/conflict"
	"github.com/promethios/trust-fabric/pkg/consensus"
	"github.com/promethios/trust-fabric/pkg/distribution"
	"github.com/promethios/trust-fabric/pkg/registry"
	"github.com/promethios/trust-fabric/pkg/seal"
	"github.com/promethios/trust-fabric/pkg/topology"
	"github.com/promethios/trust-fabric/pkg/trust"
)

// SealRepository persists seal.Seal.
type SealRepository struct{ repo *jsonRepository }

func NewSealRepository(c *Client) *SealRepository {
	return &SealRepository{repo: newJSONRepository(c, "seals", "seal_id")}
}

func (r *SealRepository) Save(ctx context.Context, s *seal.Seal) error {
	return r.repo.put(ctx, s.SealID, nil, s)
}

func (r *SealRepository) Get(ctx context.Context, sealID string) (*seal.Seal, error) {
	var s seal.Seal
	if err := r.repo.get(ctx, sealID, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConsensusRepository persists consensus.Record.
type ConsensusRepository struct{ repo *jsonRepository }

func NewConsensusRepository(c *Client) *ConsensusRepository {
	return &ConsensusRepository{repo: newJSONRepository(c, "consensus_records", "consensus_id")}
}

func (r *ConsensusRepository) Save(ctx context.Context, rec *consensus.Record) error {
	return r.repo.put(ctx, rec.ConsensusID, map[string]string{"seal_id": rec.SealID}, rec)
}

func (r *ConsensusRepository) Get(ctx context.Context, consensusID string) (*consensus.Record, error) {
	var rec consensus.Record
	if err := r.repo.get(ctx, consensusID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ConsensusRepository) ListBySeal(ctx context.Context, sealID string) ([]*consensus.Record, error) {
	raw, err := r.repo.list(ctx, "seal_id", sealID)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[consensus.Record](raw)
}

// ConflictRepository persists conflict.Record.
type ConflictRepository struct{ repo *jsonRepository }

func NewConflictRepository(c *Client) *ConflictRepository {
	return &ConflictRepository{repo: newJSONRepository(c, "conflict_records", "conflict_id")}
}

func (r *ConflictRepository) Save(ctx context.Context, rec *conflict.Record) error {
	return r.repo.put(ctx, rec.ConflictID, nil, rec)
}

func (r *ConflictRepository) Get(ctx context.Context, conflictID string) (*conflict.Record, error) {
	var rec conflict.Record
	if err := r.repo.get(ctx, conflictID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RegistryRepository persists registry.Node.
type RegistryRepository struct{ repo *jsonRepository }

func NewRegistryRepository(c *Client) *RegistryRepository {
	return &RegistryRepository{repo: newJSONRepository(c, "nodes", "node_id")}
}

func (r *RegistryRepository) Save(ctx context.Context, n *registry.Node) error {
	return r.repo.put(ctx, n.NodeID, nil, n)
}

func (r *RegistryRepository) Get(ctx context.Context, nodeID string) (*registry.Node, error) {
	var n registry.Node
	if err := r.repo.get(ctx, nodeID, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *RegistryRepository) List(ctx context.Context) ([]*registry.Node, error) {
	raw, err := r.repo.list(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return unmarshalAll[registry.Node](raw)
}

// TopologyRepository persists topology.Topology.
type TopologyRepository struct{ repo *jsonRepository }

func NewTopologyRepository(c *Client) *TopologyRepository {
	return &TopologyRepository{repo: newJSONRepository(c, "topologies", "topology_id")}
}

func (r *TopologyRepository) Save(ctx context.Context, t *topology.Topology) error {
	return r.repo.put(ctx, t.TopologyID, nil, t)
}

func (r *TopologyRepository) Get(ctx context.Context, topologyID string) (*topology.Topology, error) {
	var t topology.Topology
	if err := r.repo.get(ctx, topologyID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DistributionRepository persists distribution.Record.
type DistributionRepository struct{ repo *jsonRepository }

func NewDistributionRepository(c *Client) *DistributionRepository {
	return &DistributionRepository{repo: newJSONRepository(c, "distributions", "distribution_id")}
}

func (r *DistributionRepository) Save(ctx context.Context, rec *distribution.Record) error {
	return r.repo.put(ctx, rec.DistributionID, map[string]string{"seal_id": rec.SealID}, rec)
}

func (r *DistributionRepository) Get(ctx context.Context, distributionID string) (*distribution.Record, error) {
	var rec distribution.Record
	if err := r.repo.get(ctx, distributionID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *DistributionRepository) ListBySeal(ctx context.Context, sealID string) ([]*distribution.Record, error) {
	raw, err := r.repo.list(ctx, "seal_id", sealID)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[distribution.Record](raw)
}

// TrustRepository persists trust.Record.
type TrustRepository struct{ repo *jsonRepository }

func NewTrustRepository(c *Client) *TrustRepository {
	return &TrustRepository{repo: newJSONRepository(c, "trust_records", "trust_record_id")}
}

func (r *TrustRepository) Save(ctx context.Context, rec *trust.Record) error {
	return r.repo.put(ctx, rec.TrustRecordID, map[string]string{"seal_id": rec.SealID}, rec)
}

func (r *TrustRepository) History(ctx context.Context, sealID string) ([]*trust.Record, error) {
	raw, err := r.repo.list(ctx, "seal_id", sealID)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[trust.Record](raw)
}

// BoundaryRepository persists boundary.Boundary.
type BoundaryRepository struct{ repo *jsonRepository }

func NewBoundaryRepository(c *Client) *BoundaryRepository {
	return &BoundaryRepository{repo: newJSONRepository(c, "boundaries", "boundary_id")}
}

func (r *BoundaryRepository) Save(ctx context.Context, b *boundary.Boundary) error {
	return r.repo.put(ctx, b.BoundaryID, map[string]string{"source": b.Source, "target": b.Target}, b)
}

func (r *BoundaryRepository) Get(ctx context.Context, boundaryID string) (*boundary.Boundary, error) {
	var b boundary.Boundary
	if err := r.repo.get(ctx, boundaryID, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BoundaryRepository) ListBySource(ctx context.Context, source string) ([]*boundary.Boundary, error) {
	raw, err := r.repo.list(ctx, "source", source)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[boundary.Boundary](raw)
}

// EnforcementLogRepository persists boundary.EnforcementLogEntry.
type EnforcementLogRepository struct{ repo *jsonRepository }

func NewEnforcementLogRepository(c *Client) *EnforcementLogRepository {
	return &EnforcementLogRepository{repo: newJSONRepository(c, "enforcement_logs", "log_id")}
}

func (r *EnforcementLogRepository) Save(ctx context.Context, e *boundary.EnforcementLogEntry) error {
	return r.repo.put(ctx, e.LogID, map[string]string{"source": e.Source}, e)
}

func (r *EnforcementLogRepository) ListBySource(ctx context.Context, source string) ([]*boundary.EnforcementLogEntry, error) {
	raw, err := r.repo.list(ctx, "source", source)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[boundary.EnforcementLogEntry](raw)
}

func unmarshalAll[T any](raw []json.RawMessage) ([]*T, error) {
	out := make([]*T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("store: unmarshal: %w", err)
		}
		out = append(out, &v)
	}
	return out, nil
}
