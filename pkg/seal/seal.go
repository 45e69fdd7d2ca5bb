// Package seal implements the Seal Generator (C2): wraps a batch of
// execution outputs into a signed, chain-linked Merkle seal.
package seal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promethios/trust-fabric/pkg/canon"
	"github.com/promethios/trust-fabric/pkg/conflict"
	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/merkle"
)

// SupportedContractVersion and SupportedPhaseID are the only tether pair the
// seal/consensus path accepts (spec.md §6: "v2025.05.20 for the seal/
// consensus path").
const (
	SupportedContractVersion = "v2025.05.20"
	SupportedPhaseID         = "5.3"
)

// Output is an immutable execution output, hashed into a Merkle leaf.
type Output struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	PayloadBytes []byte         `json:"payload_bytes"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TreeMetadata records how the seal's Merkle tree was shaped.
type TreeMetadata struct {
	LeafCount int    `json:"leaf_count"`
	Height    int    `json:"tree_height"`
	Algorithm string `json:"algorithm"`
}

// SealedEntry binds an output's id to its leaf hash within the seal.
type SealedEntry struct {
	EntryID   string `json:"entry_id"`
	EntryHash string `json:"entry_hash"`
}

// Seal is a tamper-evident wrapper around a batch of outputs (spec.md §3).
type Seal struct {
	SealID          string           `json:"seal_id"`
	RootHash        string           `json:"root_hash"`
	Timestamp       time.Time        `json:"timestamp"`
	PreviousSealID  string           `json:"previous_seal_id,omitempty"`
	ConflictMeta    *conflict.Record `json:"conflict_meta"`
	TreeMeta        TreeMetadata     `json:"tree_meta"`
	SealedEntries   []SealedEntry    `json:"sealed_entries"`
	CodexClauses    []string         `json:"codex_clauses"`
	ContractVersion string           `json:"contract_version"`
	PhaseID         string           `json:"phase_id"`
}

// TetherCheck validates a (contract_version, phase_id) pair against the
// seal/consensus path's single supported pair. Grounded on the
// pre_loop_tether_check idiom repeated across every governance/verification
// module in the system this was distilled from: every stateful component
// refuses to construct on an unsupported tether rather than limping along.
func TetherCheck(contractVersion, phaseID string) error {
	if contractVersion != SupportedContractVersion || phaseID != SupportedPhaseID {
		return coreerr.New(coreerr.KindTetherFailure, "seal.tether_check",
			fmt.Errorf("unsupported tether: contract_version=%q phase_id=%q (want %q/%q)",
				contractVersion, phaseID, SupportedContractVersion, SupportedPhaseID))
	}
	return nil
}

// Generator produces a chain of seals. previous_seal_id is its only mutable
// state and is owned exclusively by this instance (spec.md §5: "concurrent
// seal creation from the same generator is disallowed" — enforced here by
// serializing CreateSeal under a mutex rather than rejecting concurrent
// callers outright).
type Generator struct {
	mu             sync.Mutex
	previousSealID string
}

// NewGenerator performs the tether check once, at construction, exactly as
// the system this was distilled from does in its MerkleSealGenerator
// constructor.
func NewGenerator(contractVersion, phaseID string) (*Generator, error) {
	if err := TetherCheck(contractVersion, phaseID); err != nil {
		return nil, err
	}
	return &Generator{}, nil
}

// CreateSeal builds a fresh Merkle tree from outputs and wraps it in a seal
// chained to the previous seal this generator produced, if any. A nil
// conflictMeta is replaced with the synthesized "none" record (invariant S3).
// An empty outputs list, or any output missing an id, is fatal and reported,
// never retried (spec.md §4.2).
func (g *Generator) CreateSeal(outputs []Output, conflictMeta *conflict.Record) (*Seal, error) {
	if len(outputs) == 0 {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "seal.create_seal",
			fmt.Errorf("outputs must not be empty"))
	}

	entryIDs := make([]string, len(outputs))
	leaves := make([][]byte, len(outputs))
	entries := make([]SealedEntry, len(outputs))

	for i, out := range outputs {
		if out.ID == "" {
			return nil, coreerr.New(coreerr.KindSchemaViolation, "seal.create_seal",
				fmt.Errorf("output at index %d is missing id", i))
		}
		leafHash, err := LeafHash(out)
		if err != nil {
			return nil, coreerr.New(coreerr.KindSchemaViolation, "seal.create_seal",
				fmt.Errorf("hash output %q: %w", out.ID, err))
		}
		entryIDs[i] = out.ID
		leaves[i] = leafHash
		entries[i] = SealedEntry{EntryID: out.ID, EntryHash: fmt.Sprintf("%x", leafHash)}
	}

	tree, err := merkle.BuildTreeWithEntries(entryIDs, leaves)
	if err != nil {
		return nil, coreerr.New(coreerr.KindSchemaViolation, "seal.create_seal", err)
	}

	if conflictMeta == nil {
		conflictMeta = conflict.None()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	s := &Seal{
		SealID:          uuid.NewString(),
		RootHash:        tree.RootHex(),
		Timestamp:       time.Now(),
		PreviousSealID:  g.previousSealID,
		ConflictMeta:    conflictMeta,
		TreeMeta:        TreeMetadata{LeafCount: len(outputs), Height: treeHeight(len(outputs)), Algorithm: "sha256"},
		SealedEntries:   entries,
		CodexClauses:    []string{"5.3", "11.0"},
		ContractVersion: SupportedContractVersion,
		PhaseID:         SupportedPhaseID,
	}

	g.previousSealID = s.SealID
	return s, nil
}

// LeafHash hashes the canonical byte encoding of an output (spec.md §3).
func LeafHash(out Output) ([]byte, error) {
	encoded, err := canon.Marshal(out)
	if err != nil {
		return nil, err
	}
	return merkle.HashData(encoded), nil
}

// treeHeight returns the number of levels a balanced binary tree over n
// leaves has, including the leaf level and the root.
func treeHeight(n int) int {
	height := 1
	for n > 1 {
		n = (n + 1) / 2
		height++
	}
	return height
}

// VerifySeal checks well-formedness and, when outputs are supplied,
// rebuilds their Merkle root and compares it against seal.RootHash
// (spec.md §4.2, invariant S1).
func VerifySeal(s *Seal, outputs []Output) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("nil seal")
	}
	if s.SealID == "" || s.RootHash == "" || s.ConflictMeta == nil {
		return false, nil
	}

	if outputs == nil {
		return true, nil
	}

	entryIDs := make([]string, len(outputs))
	leaves := make([][]byte, len(outputs))
	for i, out := range outputs {
		leafHash, err := LeafHash(out)
		if err != nil {
			return false, err
		}
		entryIDs[i] = out.ID
		leaves[i] = leafHash
	}

	tree, err := merkle.BuildTreeWithEntries(entryIDs, leaves)
	if err != nil {
		return false, err
	}
	return tree.RootHex() == s.RootHash, nil
}

// GetSealChain walks previous_seal_id backward from seal_id using store,
// stopping when store reports false or previous_seal_id is empty.
// It returns the chain newest-first.
func GetSealChain(sealID string, store func(sealID string) (*Seal, bool)) []*Seal {
	var chain []*Seal
	currentID := sealID
	for currentID != "" {
		s, ok := store(currentID)
		if !ok {
			break
		}
		chain = append(chain, s)
		currentID = s.PreviousSealID
	}
	return chain
}

// VerifySealChain checks that each seal in chain (newest-first) correctly
// links to the one after it, and that each seal itself verifies.
func VerifySealChain(chain []*Seal) (bool, error) {
	if len(chain) == 0 {
		return true, nil
	}
	for i := 0; i < len(chain)-1; i++ {
		current, previous := chain[i], chain[i+1]
		if current.PreviousSealID != previous.SealID {
			return false, nil
		}
		ok, err := VerifySeal(current, nil)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	ok, err := VerifySeal(chain[len(chain)-1], nil)
	if err != nil || !ok {
		return false, err
	}
	return true, nil
}
