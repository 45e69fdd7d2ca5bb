package topology

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBootstrapYAMLCreatesFullMeshAndMarksDownNodes(t *testing.T) {
	m := New()

	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.yaml")
	content := `
nodes: ["node-a", "node-b", "node-c"]
down_nodes: ["node-c"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write bootstrap file: %v", err)
	}

	topo, err := m.LoadBootstrapYAML(path)
	if err != nil {
		t.Fatalf("LoadBootstrapYAML: %v", err)
	}
	if len(topo.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(topo.Nodes))
	}

	for _, c := range topo.Connections {
		if c.Source == "node-c" || c.Target == "node-c" {
			if c.Status != ConnectionDown {
				t.Errorf("connection %s-%s: status = %s, want down", c.Source, c.Target, c.Status)
			}
		}
	}
}

func TestLoadBootstrapYAMLMissingFileFails(t *testing.T) {
	m := New()
	if _, err := m.LoadBootstrapYAML("/nonexistent/bootstrap.yaml"); err == nil {
		t.Fatal("expected an error reading a missing file")
	}
}
