// Package distribution implements the Seal Distribution Service (C6):
// reliable, priority-ordered delivery of seals to verification nodes, with
// per-node receipt tracking and bounded retry.
package distribution

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/promethios/trust-fabric/pkg/coreerr"
	"github.com/promethios/trust-fabric/pkg/seal"
)

// Status is a distribution record's lifecycle state.
type Status string

const (
	StatusQueued               Status = "queued"
	StatusDistributing         Status = "distributing"
	StatusDistributed          Status = "distributed"
	StatusPartiallyDistributed Status = "partially_distributed"
	StatusFailed               Status = "failed"
)

// ReceiptStatus is a single node's acknowledgment of a distributed seal.
type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptReceived ReceiptStatus = "received"
	ReceiptRejected ReceiptStatus = "rejected"
)

// NodeReceipt tracks one target node's delivery outcome.
type NodeReceipt struct {
	NodeID  string        `json:"node_id"`
	Status  ReceiptStatus `json:"status"`
	Ts      time.Time     `json:"ts"`
	Message string        `json:"message,omitempty"`
}

// Record is a queued or completed distribution of one seal.
type Record struct {
	DistributionID string        `json:"distribution_id"`
	SealID         string        `json:"seal_id"`
	Seal           *seal.Seal    `json:"-"`
	Priority       int           `json:"priority"`
	Status         Status        `json:"status"`
	TargetNodes    []string      `json:"target_nodes"`
	NodeReceipts   []NodeReceipt `json:"node_receipts"`
	RetryCount     int           `json:"retry_count"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (r *Record) clone() *Record {
	c := *r
	c.TargetNodes = append([]string(nil), r.TargetNodes...)
	c.NodeReceipts = append([]NodeReceipt(nil), r.NodeReceipts...)
	return &c
}

func (r *Record) targetsNode(nodeID string) bool {
	for _, n := range r.TargetNodes {
		if n == nodeID {
			return true
		}
	}
	return false
}

// Transport delivers a seal to a single node. The default implementation
// posts it over HTTP; tests inject a fake.
type Transport interface {
	Send(ctx context.Context, nodeAddress string, s *seal.Seal) error
}

// httpTransport posts the seal to the node's network address, mirroring the
// teacher's attestation-service httpClient fan-out pattern.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a Transport backed by an *http.Client with the
// given timeout.
func NewHTTPTransport(timeout time.Duration) Transport {
	return &httpTransport{client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) Send(ctx context.Context, nodeAddress string, s *seal.Seal) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeAddress+"/seals", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("node %s responded with status %d", nodeAddress, resp.StatusCode)
	}
	return nil
}

// NodeAddressResolver maps a node_id to the network address Transport sends
// to (pkg/registry.Node.NetworkAddress in practice).
type NodeAddressResolver func(nodeID string) (string, bool)

// Queue owns the distribution queue and history, and the concurrency limit
// used to fan delivery out across target nodes.
type Queue struct {
	mu          sync.Mutex
	queued      []*Record
	history     map[string]*Record
	transport   Transport
	resolveAddr NodeAddressResolver
	maxInFlight int
	logger      *log.Logger
}

// Config configures a Queue.
type Config struct {
	Transport   Transport
	ResolveAddr NodeAddressResolver
	MaxInFlight int
	Logger      *log.Logger
}

// DefaultConfig returns sane defaults: a 10s HTTP transport, up to 8
// concurrent per-node sends within a single Distribute call.
func DefaultConfig() *Config {
	return &Config{
		Transport:   NewHTTPTransport(10 * time.Second),
		MaxInFlight: 8,
		Logger:      log.New(log.Writer(), "[Distribution] ", log.LstdFlags),
	}
}

// New performs the tether check once, at construction, then builds a Queue.
// cfg may be nil to take every default. contractVersion/phaseID are checked
// against seal.TetherCheck, the same pre-flight C2's Generator performs,
// generalized here to the rest of the seal/consensus path (spec.md
// Scenario 6): a distribution queue wired to an unsupported tether must
// never come up at all rather than distribute seals it cannot account for.
func New(cfg *Config, contractVersion, phaseID string) (*Queue, error) {
	if err := seal.TetherCheck(contractVersion, phaseID); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(10 * time.Second)
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Distribution] ", log.LstdFlags)
	}
	return &Queue{
		history:     make(map[string]*Record),
		transport:   cfg.Transport,
		resolveAddr: cfg.ResolveAddr,
		maxInFlight: cfg.MaxInFlight,
		logger:      cfg.Logger,
	}, nil
}

// Enqueue validates priority and enqueues s into the max-heap-by-priority
// queue (stable sort, so FIFO is preserved within a priority band).
func (q *Queue) Enqueue(s *seal.Seal, priority int) (string, error) {
	if priority < 1 || priority > 5 {
		return "", coreerr.New(coreerr.KindSchemaViolation, "distribution.queue",
			fmt.Errorf("invalid priority %d: must be between 1 and 5", priority))
	}
	if s == nil || s.SealID == "" {
		return "", coreerr.New(coreerr.KindSchemaViolation, "distribution.queue",
			fmt.Errorf("seal must have a seal_id"))
	}

	rec := &Record{
		DistributionID: uuid.NewString(),
		SealID:         s.SealID,
		Seal:           s,
		Priority:       priority,
		Status:         StatusQueued,
		CreatedAt:      time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, rec)
	q.sortByPriority()
	return rec.DistributionID, nil
}

// sortByPriority keeps the queue ordered highest-priority-first, FIFO within
// a priority band (stable sort over the insertion-order slice).
func (q *Queue) sortByPriority() {
	sort.SliceStable(q.queued, func(i, j int) bool {
		return q.queued[i].Priority > q.queued[j].Priority
	})
}

func (q *Queue) findQueued(distributionID string) (*Record, int) {
	for i, r := range q.queued {
		if r.DistributionID == distributionID {
			return r, i
		}
	}
	return nil, -1
}

// Distribute attempts delivery of distributionID's seal to every target
// node concurrently (bounded by maxInFlight), records a per-node receipt for
// each, and derives the terminal status purely from the success booleans
// (spec.md §4.6: "Receipts are advisory — the record's status is derived
// only from the per-target success booleans at the end of a distribute
// call"). A fully successful distribution moves the record into history.
func (q *Queue) Distribute(ctx context.Context, distributionID string, targetNodes []string) (*Record, error) {
	q.mu.Lock()
	rec, idx := q.findQueued(distributionID)
	if rec == nil {
		q.mu.Unlock()
		return nil, coreerr.New(coreerr.KindNotFound, "distribution.distribute",
			fmt.Errorf("distribution %q not found", distributionID))
	}
	rec.Status = StatusDistributing
	rec.TargetNodes = append([]string(nil), targetNodes...)
	s := rec.Seal
	q.mu.Unlock()

	results := make([]NodeReceipt, len(targetNodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.maxInFlight)
	for i, nodeID := range targetNodes {
		i, nodeID := i, nodeID
		g.Go(func() error {
			results[i] = q.sendOne(gctx, nodeID, s)
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	successCount := 0
	for _, r := range results {
		if r.Status == ReceiptReceived {
			successCount++
		}
	}
	rec.NodeReceipts = results
	rec.RetryCount++

	switch {
	case successCount == len(targetNodes) && len(targetNodes) > 0:
		rec.Status = StatusDistributed
		q.history[rec.DistributionID] = rec
		q.queued = append(q.queued[:idx], q.queued[idx+1:]...)
	case successCount > 0:
		rec.Status = StatusPartiallyDistributed
	default:
		rec.Status = StatusFailed
	}

	return rec.clone(), nil
}

func (q *Queue) sendOne(ctx context.Context, nodeID string, s *seal.Seal) NodeReceipt {
	address := nodeID
	if q.resolveAddr != nil {
		if a, ok := q.resolveAddr(nodeID); ok {
			address = a
		}
	}
	if err := q.transport.Send(ctx, address, s); err != nil {
		q.logger.Printf("delivery to node %s failed: %v", nodeID, err)
		return NodeReceipt{NodeID: nodeID, Status: ReceiptRejected, Ts: time.Now(), Message: err.Error()}
	}
	return NodeReceipt{NodeID: nodeID, Status: ReceiptReceived, Ts: time.Now()}
}

// RecordReceipt overwrites or appends a node's receipt on a queued or
// completed (history) record, rejecting a node_id that isn't in the target
// set.
func (q *Queue) RecordReceipt(distributionID, nodeID string, status ReceiptStatus, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, _ := q.findQueued(distributionID)
	if rec == nil {
		if h, ok := q.history[distributionID]; ok {
			rec = h
		} else {
			return coreerr.New(coreerr.KindNotFound, "distribution.record_receipt",
				fmt.Errorf("distribution %q not found", distributionID))
		}
	}
	if !rec.targetsNode(nodeID) {
		return coreerr.New(coreerr.KindSchemaViolation, "distribution.record_receipt",
			fmt.Errorf("node %q is not a target of distribution %q", nodeID, distributionID))
	}

	for i, r := range rec.NodeReceipts {
		if r.NodeID == nodeID {
			rec.NodeReceipts[i] = NodeReceipt{NodeID: nodeID, Status: status, Ts: time.Now(), Message: message}
			return nil
		}
	}
	rec.NodeReceipts = append(rec.NodeReceipts, NodeReceipt{NodeID: nodeID, Status: status, Ts: time.Now(), Message: message})
	return nil
}

// RetryFailed re-attempts every failed and partially_distributed record
// against nodes.
func (q *Queue) RetryFailed(ctx context.Context, nodes []string) ([]*Record, error) {
	q.mu.Lock()
	var toRetry []string
	for _, r := range q.queued {
		if r.Status == StatusFailed || r.Status == StatusPartiallyDistributed {
			toRetry = append(toRetry, r.DistributionID)
		}
	}
	q.mu.Unlock()

	results := make([]*Record, 0, len(toRetry))
	for _, id := range toRetry {
		rec, err := q.Distribute(ctx, id, nodes)
		if err != nil {
			return results, err
		}
		results = append(results, rec)
	}
	return results, nil
}

// OptimizeBandwidth selects up to maxConcurrent queued records, highest
// priority first, marks them distributing, and returns them for external
// dispatch (the caller is expected to follow up with Distribute per record).
func (q *Queue) OptimizeBandwidth(maxConcurrent int) []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	var selected []*Record
	for _, r := range q.queued {
		if r.Status != StatusQueued {
			continue
		}
		r.Status = StatusDistributing
		selected = append(selected, r.clone())
		if len(selected) == maxConcurrent {
			break
		}
	}
	return selected
}

// Status returns a copy of a distribution record from either the queue or
// history.
func (q *Queue) Status(distributionID string) (*Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if rec, _ := q.findQueued(distributionID); rec != nil {
		return rec.clone(), nil
	}
	if rec, ok := q.history[distributionID]; ok {
		return rec.clone(), nil
	}
	return nil, coreerr.New(coreerr.KindNotFound, "distribution.status",
		fmt.Errorf("distribution %q not found", distributionID))
}
