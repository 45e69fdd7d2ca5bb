package consensus

import (
	"fmt"

	"github.com/promethios/trust-fabric/pkg/crypto/bls"
)

// PublicKeyResolver looks up the registered BLS public key for a node,
// implemented by the node registry (C4).
type PublicKeyResolver interface {
	PublicKey(nodeID string) (*bls.PublicKey, bool)
}

// signingMessage is the byte string every participating node signs: the
// consensus record is bound to its seal, so a signature cannot be replayed
// onto a different seal's consensus record.
func signingMessage(sealID, consensusID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", sealID, consensusID))
}

// SignVerdict signs this node's verdict over (sealID, consensusID) under the
// threshold-signature domain.
func SignVerdict(key *bls.PrivateKey, sealID, consensusID string) []byte {
	return key.SignWithDomain(signingMessage(sealID, consensusID), bls.DomainThresholdSignature).Bytes()
}

// CombineThresholdSignature aggregates the signatures of every participant,
// regardless of verdict polarity, into a single threshold signature
// (invariant K3: this must exist once len(participants) >=
// RequiredSignatureCount). A threshold signature attests that the required
// quorum of nodes participated in consensus on the seal, not that they all
// agreed. Signatures that fail to parse or whose signer has no known public
// key are skipped rather than treated as fatal, since a single malformed
// submission must not block consensus for every other node.
func CombineThresholdSignature(sealID, consensusID string, participants []Participant, resolver PublicKeyResolver) ([]byte, error) {
	var sigs []*bls.Signature
	for _, p := range participants {
		if len(p.Signature) == 0 {
			continue
		}
		sig, err := bls.SignatureFromBytes(p.Signature)
		if err != nil {
			continue
		}
		if _, ok := resolver.PublicKey(p.NodeID); !ok {
			continue
		}
		sigs = append(sigs, sig)
	}

	if len(sigs) == 0 {
		return nil, fmt.Errorf("no valid participant signatures to combine")
	}

	combined, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return nil, fmt.Errorf("aggregate signatures: %w", err)
	}
	return combined.Bytes(), nil
}

// VerifyThresholdSignature checks that thresholdSignature is a valid
// aggregate of the given nodes' signatures over (sealID, consensusID).
func VerifyThresholdSignature(sealID, consensusID string, thresholdSignature []byte, nodeIDs []string, resolver PublicKeyResolver) (bool, error) {
	sig, err := bls.SignatureFromBytes(thresholdSignature)
	if err != nil {
		return false, fmt.Errorf("parse threshold signature: %w", err)
	}

	var pubKeys []*bls.PublicKey
	for _, nodeID := range nodeIDs {
		pk, ok := resolver.PublicKey(nodeID)
		if !ok {
			return false, fmt.Errorf("unknown public key for node %q", nodeID)
		}
		pubKeys = append(pubKeys, pk)
	}

	message := signingMessage(sealID, consensusID)
	return bls.VerifyAggregateSignatureWithDomain(sig, pubKeys, message, bls.DomainThresholdSignature), nil
}
