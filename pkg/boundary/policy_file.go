package boundary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape of a YAML enforcement policy definition,
// seeded at startup instead of requiring every policy to be created through
// one CreateEnforcementPolicy call per record.
type policyFile struct {
	Policies []struct {
		Type                     string   `yaml:"type"`
		ResourcePattern          string   `yaml:"resource_pattern"`
		RequiredTrust            int      `yaml:"required_trust"`
		RequiredAttestationTypes []string `yaml:"required_attestation_types"`
		AllowedOperations        []string `yaml:"allowed_operations"`
		Precedence               int      `yaml:"precedence"`
		Exceptions               []string `yaml:"exceptions"`
	} `yaml:"policies"`
}

// LoadPoliciesFromYAML reads a policy definition file and creates one
// EnforcementPolicy per entry, returning the created policies in file order.
func (m *Manager) LoadPoliciesFromYAML(path string) ([]*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boundary: read policy file %s: %w", path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("boundary: parse policy file %s: %w", path, err)
	}

	out := make([]*Policy, 0, len(pf.Policies))
	for _, p := range pf.Policies {
		out = append(out, m.CreateEnforcementPolicy(
			p.Type, p.ResourcePattern, p.RequiredTrust,
			p.RequiredAttestationTypes, p.AllowedOperations, p.Precedence, p.Exceptions,
		))
	}
	return out, nil
}
