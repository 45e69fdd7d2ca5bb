package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// bootstrapFile is the on-disk shape of a YAML topology bootstrap
// definition: the full node set plus any nodes that should start out
// marked down rather than up.
type bootstrapFile struct {
	Nodes     []string `yaml:"nodes"`
	DownNodes []string `yaml:"down_nodes"`
}

// LoadBootstrapYAML reads a topology bootstrap file, creates the initial
// full-mesh topology over its node set, and marks any down_nodes entries
// down before returning the installed topology.
func (m *Manager) LoadBootstrapYAML(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read bootstrap file %s: %w", path, err)
	}

	var bf bootstrapFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("topology: parse bootstrap file %s: %w", path, err)
	}

	current, err := m.CreateTopology(bf.Nodes)
	if err != nil {
		return nil, err
	}

	for _, nodeID := range bf.DownNodes {
		current, err = m.UpdateNode(nodeID, ConnectionDown)
		if err != nil {
			return nil, fmt.Errorf("topology: mark %s down: %w", nodeID, err)
		}
	}
	return current, nil
}
