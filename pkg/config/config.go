package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the verification and trust-propagation
// service.
type Config struct {
	// Service Configuration
	InstanceID string
	LogLevel   string

	// Database Configuration (URL-based, legacy)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int  // seconds
	DatabaseMaxLifetime int  // seconds
	DatabaseRequired    bool // If true, startup fails if database connection fails

	// Database Configuration (individual fields for store.Client)
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// BLS Key Configuration
	BLSPrivateKeyPath string
	DataDir           string

	// Consensus Configuration (C7)
	ConsensusThreshold float64 // fraction in (0.5, 1.0], default 0.67
	ActiveNodeCount    int     // total_active_nodes used for ceil(threshold·n)

	// Distribution Configuration (C6)
	DistributionTargetTimeout time.Duration
	DistributionMaxConcurrent int

	// Propagation Configuration (C9)
	// Per spec.md §4.9 and the original trust_propagation_engine.py constants.
	PropagationDecayRate        float64 // default 0.1 per day
	PropagationThreshold        float64 // default 0.5
	PropagationTransitiveDiscount float64 // default 0.8
	PropagationMaxPathLength    int     // default 3

	// Tether Configuration
	SealConsensusContractVersion string // default "v2025.05.20"
	SealConsensusPhaseID         string
	TrustBoundaryContractVersion string // default "v2025.05.18"
	TrustBoundaryPhaseID         string

	// Peer Configuration (C6 distribution targets)
	NodePeers []string

	// Security Configuration
	JWTSecret  string
	TLSEnabled bool
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables have no defaults and must be explicitly set.
// Call Validate() after Load() to ensure all required configuration is
// present.
func Load() (*Config, error) {
	cfg := &Config{
		InstanceID: getEnv("INSTANCE_ID", "instance-default"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),  // 5 minutes
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600), // 1 hour
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", false),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "trustfabric"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "trust_fabric"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		BLSPrivateKeyPath: getEnv("BLS_PRIVATE_KEY_PATH", ""),
		DataDir:           getEnv("DATA_DIR", "./data"),

		ConsensusThreshold: getEnvFloat64("CONSENSUS_THRESHOLD", 0.67),
		ActiveNodeCount:    getEnvInt("ACTIVE_NODE_COUNT", 0),

		DistributionTargetTimeout: getEnvDuration("DISTRIBUTION_TARGET_TIMEOUT", 10*time.Second),
		DistributionMaxConcurrent: getEnvInt("DISTRIBUTION_MAX_CONCURRENT", 10),

		PropagationDecayRate:          getEnvFloat64("PROPAGATION_DECAY_RATE", 0.1),
		PropagationThreshold:          getEnvFloat64("PROPAGATION_THRESHOLD", 0.5),
		PropagationTransitiveDiscount: getEnvFloat64("PROPAGATION_TRANSITIVE_DISCOUNT", 0.8),
		PropagationMaxPathLength:      getEnvInt("PROPAGATION_MAX_PATH_LENGTH", 3),

		SealConsensusContractVersion: getEnv("SEAL_CONSENSUS_CONTRACT_VERSION", "v2025.05.20"),
		SealConsensusPhaseID:         getEnv("SEAL_CONSENSUS_PHASE_ID", "5.3"),
		TrustBoundaryContractVersion: getEnv("TRUST_BOUNDARY_CONTRACT_VERSION", "v2025.05.18"),
		TrustBoundaryPhaseID:         getEnv("TRUST_BOUNDARY_PHASE_ID", "5.4"),

		NodePeers: parsePeers(getEnv("NODE_PEERS", "")),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		TLSEnabled: getEnvBool("TLS_ENABLED", true),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else {
		if strings.Contains(c.DatabaseURL, "sslmode=disable") {
			errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
		}
	}

	if c.ConsensusThreshold <= 0.5 || c.ConsensusThreshold > 1.0 {
		errs = append(errs, "CONSENSUS_THRESHOLD must lie in (0.5, 1.0]")
	}

	if c.PropagationMaxPathLength < 1 {
		errs = append(errs, "PROPAGATION_MAX_PATH_LENGTH must be at least 1")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lowerSecret := strings.ToLower(c.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, "JWT_SECRET contains weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters for security")
		}
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development. WARNING: Do not use this in production - use Validate()
// instead.
func (c *Config) ValidateForDevelopment() error {
	var errs []string

	if c.ConsensusThreshold <= 0.5 || c.ConsensusThreshold > 1.0 {
		errs = append(errs, "CONSENSUS_THRESHOLD must lie in (0.5, 1.0]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("development configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parsePeers parses comma-separated peer node addresses for seal
// distribution.
func parsePeers(value string) []string {
	if value == "" {
		return nil
	}
	peers := strings.Split(value, ",")
	result := make([]string, 0, len(peers))
	for _, peer := range peers {
		peer = strings.TrimSpace(peer)
		if peer != "" {
			result = append(result, peer)
		}
	}
	return result
}
