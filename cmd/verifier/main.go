// Copyright 2025 Certen Protocol
//
// Verifier process bootstrap: loads configuration, opens storage, wires
// C1-C10 in dependency order, and blocks until signaled to stop.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/promethios/trust-fabric/pkg/attestation"
	"github.com/promethios/trust-fabric/pkg/boundary"
	"github.com/promethios/trust-fabric/pkg/config"
	"github.com/promethios/trust-fabric/pkg/consensus"
	"github.com/promethios/trust-fabric/pkg/crypto/bls"
	"github.com/promethios/trust-fabric/pkg/distribution"
	"github.com/promethios/trust-fabric/pkg/propagation"
	"github.com/promethios/trust-fabric/pkg/registry"
	"github.com/promethios/trust-fabric/pkg/schema"
	"github.com/promethios/trust-fabric/pkg/store"
	"github.com/promethios/trust-fabric/pkg/topology"
	"github.com/promethios/trust-fabric/pkg/trust"
)

// components bundles every wired subsystem so the health endpoint and any
// future caller can reach them without threading a dozen separate globals.
type components struct {
	registry     *registry.Registry
	topology     *topology.Manager
	distribution *distribution.Queue
	consensus    *consensus.Service
	trust        *trust.Service
	propagation  *propagation.Engine
	boundary     *boundary.Manager
	attestations *attestation.Registry
	schema       *schema.Validator
	store        *store.Client
}

func main() {
	instanceID := flag.String("instance-id", "", "instance ID (overrides INSTANCE_ID env var)")
	devMode := flag.Bool("dev", false, "relax configuration validation for local development")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *instanceID != "" {
		cfg.InstanceID = *instanceID
	}

	if *devMode {
		if err := cfg.ValidateForDevelopment(); err != nil {
			log.Fatalf("invalid development configuration: %v", err)
		}
	} else if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("starting verifier instance=%s", cfg.InstanceID)

	c, err := wire(cfg)
	if err != nil {
		log.Fatalf("wire components: %v", err)
	}
	defer c.store.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.handleHealth)
	srv := &http.Server{Addr: ":8080", Handler: mux}

	go func() {
		log.Printf("health endpoint listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server: %v", err)
		}
	}()

	stopDecay := startDecayTicker(c.propagation, 24*time.Hour)
	defer close(stopDecay)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown: %v", err)
	}
}

// wire constructs C1-C10 in the dependency order: Node Registry before
// Consensus (which resolves signer public keys through it), Boundary
// Enforcement and Trust Propagation last since each reads the other
// (spec.md §3's Propagation-reads-Boundary ownership rule) and so must be
// attached via setter after both exist.
func wire(cfg *config.Config) (*components, error) {
	storeClient, err := store.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	if err := storeClient.MigrateUp(context.Background()); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	signingKey, err := loadOrGenerateSigningKey(cfg.BLSPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	nodeRegistry := registry.New()
	self := &registry.Node{
		NodeID:       cfg.InstanceID,
		PublicKey:    signingKey.PublicKey().Bytes(),
		Role:         registry.RoleCoordinator,
		Status:       registry.StatusActive,
		TrustScore:   1.0,
		RegisteredAt: time.Now().UTC(),
	}
	if _, err := nodeRegistry.Register(self); err != nil {
		return nil, fmt.Errorf("register self node: %w", err)
	}

	topologyManager := topology.New()
	if _, err := topologyManager.CreateTopology([]string{cfg.InstanceID}); err != nil {
		return nil, fmt.Errorf("create topology: %w", err)
	}

	distributionQueue, err := distribution.New(&distribution.Config{
		Transport:   distribution.NewHTTPTransport(cfg.DistributionTargetTimeout),
		MaxInFlight: cfg.DistributionMaxConcurrent,
	}, cfg.SealConsensusContractVersion, cfg.SealConsensusPhaseID)
	if err != nil {
		return nil, fmt.Errorf("create distribution queue: %w", err)
	}

	consensusService := consensus.NewService(nodeRegistry)
	trustService := trust.New()

	_, privKey, _ := ed25519.GenerateKey(nil)
	attestationRegistry, err := attestation.New(&attestation.Config{
		SelfID:        cfg.InstanceID,
		PrivateKey:    privKey,
		PeerEndpoints: cfg.NodePeers,
	})
	if err != nil {
		return nil, fmt.Errorf("create attestation registry: %w", err)
	}

	propagationEngine, err := propagation.New(nil, cfg.SealConsensusContractVersion, cfg.SealConsensusPhaseID)
	if err != nil {
		return nil, fmt.Errorf("create propagation engine: %w", err)
	}
	boundaryManager, err := boundary.New(cfg.InstanceID, propagationEngine, attestationRegistry,
		cfg.SealConsensusContractVersion, cfg.SealConsensusPhaseID)
	if err != nil {
		return nil, fmt.Errorf("create boundary manager: %w", err)
	}
	propagationEngine.SetSource(boundaryManager)

	return &components{
		registry:     nodeRegistry,
		topology:     topologyManager,
		distribution: distributionQueue,
		consensus:    consensusService,
		trust:        trustService,
		propagation:  propagationEngine,
		boundary:     boundaryManager,
		attestations: attestationRegistry,
		schema:       schema.New(),
		store:        storeClient,
	}, nil
}

// loadOrGenerateSigningKey reads a BLS private key from path, or generates
// an ephemeral one for local/dev runs when path is empty.
func loadOrGenerateSigningKey(path string) (*bls.PrivateKey, error) {
	if path == "" {
		log.Println("BLS_PRIVATE_KEY_PATH not set, generating an ephemeral signing key")
		sk, _, err := bls.GenerateKeyPair()
		return sk, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return bls.PrivateKeyFromHex(string(data))
}

// startDecayTicker applies the daily trust decay (spec.md §4.9) once per
// interval until the returned channel is closed.
func startDecayTicker(engine *propagation.Engine, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				engine.ApplyDecay(1)
			case <-stop:
				return
			}
		}
	}()
	return stop
}

func (c *components) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ok"
	storeStatus, err := c.store.Health(r.Context())
	if err != nil || !storeStatus.Healthy {
		status = "degraded"
	}

	resp := map[string]any{
		"status": status,
		"store":  storeStatus,
		"nodes":  len(c.registry.ActiveNodes()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"failed to encode health response"}`, http.StatusInternalServerError)
	}
}
