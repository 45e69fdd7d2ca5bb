// Attestation Registry - peer-collected attestation claims
//
// A Registry tracks which attestation types a source node has been vouched
// for by peers, so pkg/boundary can decide whether a source satisfies a
// policy's required attestation types. It keeps the broadcast-and-collect
// shape of a validator attestation network (request peers, gather signed
// claims into a per-source bundle) but the thing being attested is a named
// capability claim, not a co-signed merkle root.
package attestation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// Claim is one peer's signed vouch that sourceID holds Type.
type Claim struct {
	SourceID   string    `json:"source_id"`
	Type       string    `json:"type"`
	AttestorID string    `json:"attestor_id"`
	Signature  []byte    `json:"signature"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (c *Claim) message() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d", c.SourceID, c.Type, c.AttestorID, c.IssuedAt.UnixNano()))
}

func (c *Claim) expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Config configures a Registry.
type Config struct {
	SelfID        string
	PrivateKey    ed25519.PrivateKey
	PeerEndpoints []string
	TTL           time.Duration // claim validity once issued
	Timeout       time.Duration
	Logger        *log.Logger
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		TTL:     24 * time.Hour,
		Timeout: 10 * time.Second,
		Logger:  log.New(log.Writer(), "[attestation] ", log.LstdFlags),
	}
}

// Registry collects attestation claims from peers and answers whether a
// source satisfies a set of required attestation types. It implements
// boundary.AttestationSource.
type Registry struct {
	mu sync.RWMutex

	selfID        string
	privateKey    ed25519.PrivateKey
	peerEndpoints []string
	ttl           time.Duration

	trustedKeys map[string]ed25519.PublicKey // attestorID -> pubkey, self always trusted
	claims      map[string][]*Claim          // sourceID -> claims

	httpClient *http.Client
	logger     *log.Logger
}

// New creates a Registry. cfg may be nil to take DefaultConfig.
func New(cfg *Config) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SelfID == "" {
		return nil, fmt.Errorf("attestation: SelfID required")
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultConfig().TTL
	}

	r := &Registry{
		selfID:        cfg.SelfID,
		privateKey:    cfg.PrivateKey,
		peerEndpoints: cfg.PeerEndpoints,
		ttl:           cfg.TTL,
		trustedKeys:   make(map[string]ed25519.PublicKey),
		claims:        make(map[string][]*Claim),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        cfg.Logger,
	}
	if len(cfg.PrivateKey) == ed25519.PrivateKeySize {
		r.trustedKeys[cfg.SelfID] = cfg.PrivateKey.Public().(ed25519.PublicKey)
	}
	return r, nil
}

// TrustPeer registers a peer attestor's public key so its claims are
// accepted by Satisfies and verified on arrival from a peer response.
func (r *Registry) TrustPeer(attestorID string, pubKey ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trustedKeys[attestorID] = pubKey
}

// IssueClaim signs and records a claim that sourceID holds attestationType,
// vouched for by this node.
func (r *Registry) IssueClaim(sourceID, attestationType string) (*Claim, error) {
	if len(r.privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("attestation: registry has no signing key")
	}
	now := time.Now().UTC()
	claim := &Claim{
		SourceID:   sourceID,
		Type:       attestationType,
		AttestorID: r.selfID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(r.ttl),
	}
	claim.Signature = ed25519.Sign(r.privateKey, claim.message())
	r.recordClaim(claim)
	return claim, nil
}

// recordClaim verifies and stores a claim, replacing any stale claim of the
// same (source, type, attestor).
func (r *Registry) recordClaim(claim *Claim) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.trustedKeys[claim.AttestorID]
	if !ok || !ed25519.Verify(key, claim.message(), claim.Signature) {
		return false
	}

	existing := r.claims[claim.SourceID]
	filtered := existing[:0]
	for _, c := range existing {
		if c.Type == claim.Type && c.AttestorID == claim.AttestorID {
			continue
		}
		filtered = append(filtered, c)
	}
	r.claims[claim.SourceID] = append(filtered, claim)
	return true
}

// Satisfies implements boundary.AttestationSource: sourceID satisfies the
// requirement when every required type has at least one unexpired,
// verified claim from a trusted attestor.
func (r *Registry) Satisfies(sourceID string, required []string) (bool, string) {
	if len(required) == 0 {
		return true, ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now().UTC()
	for _, want := range required {
		found := false
		for _, c := range r.claims[sourceID] {
			if c.Type == want && !c.expired(now) {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("no valid attestation of type %q for %s", want, sourceID)
		}
	}
	return true, ""
}

// AttestationRequest asks a peer to vouch for sourceID holding attestationType.
type AttestationRequest struct {
	SourceID string `json:"source_id"`
	Type     string `json:"type"`
}

// AttestationResponse carries the peer's answer, with a signed claim when granted.
type AttestationResponse struct {
	Granted bool   `json:"granted"`
	Claim   *Claim `json:"claim,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RequestAttestations broadcasts a request to every configured peer and
// records whichever granted claims verify, returning how many were accepted.
func (r *Registry) RequestAttestations(ctx context.Context, sourceID, attestationType string) int {
	req := AttestationRequest{SourceID: sourceID, Type: attestationType}
	body, err := json.Marshal(req)
	if err != nil {
		r.logger.Printf("marshal attestation request: %v", err)
		return 0
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		granted int
	)
	for _, endpoint := range r.peerEndpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			resp, err := r.postAttestationRequest(ctx, endpoint, body)
			if err != nil {
				r.logger.Printf("attestation request to %s failed: %v", endpoint, err)
				return
			}
			if !resp.Granted || resp.Claim == nil {
				return
			}
			if r.recordClaim(resp.Claim) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(endpoint)
	}
	wg.Wait()
	return granted
}

func (r *Registry) postAttestationRequest(ctx context.Context, endpoint string, body []byte) (*AttestationResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d: %s", httpResp.StatusCode, string(data))
	}

	var resp AttestationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode attestation response: %w", err)
	}
	return &resp, nil
}

// HandleAttestationRequest is the server side of RequestAttestations: a peer
// asks this node to vouch for a source it knows about locally.
func (r *Registry) HandleAttestationRequest(req *AttestationRequest) *AttestationResponse {
	ok, reason := r.Satisfies(req.SourceID, []string{req.Type})
	if !ok {
		return &AttestationResponse{Granted: false, Reason: reason}
	}
	claim, err := r.IssueClaim(req.SourceID, req.Type)
	if err != nil {
		return &AttestationResponse{Granted: false, Reason: err.Error()}
	}
	return &AttestationResponse{Granted: true, Claim: claim}
}

// CleanupExpiredClaims drops claims past their expiry and reports how many
// were removed.
func (r *Registry) CleanupExpiredClaims() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for source, claims := range r.claims {
		kept := claims[:0]
		for _, c := range claims {
			if c.expired(now) {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(r.claims, source)
		} else {
			r.claims[source] = kept
		}
	}
	return removed
}

// ClaimsFor returns a copy of the claims held for sourceID.
func (r *Registry) ClaimsFor(sourceID string) []*Claim {
	r.mu.RLock()
	defer r.mu.RUnlock()

	claims := r.claims[sourceID]
	out := make([]*Claim, len(claims))
	copy(out, claims)
	return out
}

// UpdatePeers replaces the peer endpoint list.
func (r *Registry) UpdatePeers(peers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerEndpoints = peers
}
