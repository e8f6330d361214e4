package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoad_DiscoveryFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  nmf_dir: "/data/comps"
  file_pattern: "pancan_*.csv"
  embedding_path: "/data/umap.csv"
  groupings:
    organ_system: "/data/organ.json"
    embryonic_layer: "/data/layer.json"
cache:
  png_size_mb: 256
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.NMFDir != "/data/comps" {
		t.Errorf("unexpected nmf_dir: %s", cfg.Data.NMFDir)
	}
	if cfg.Data.FilePattern != "pancan_*.csv" {
		t.Errorf("unexpected file_pattern: %s", cfg.Data.FilePattern)
	}
	if cfg.Data.Datasets.Len() != 0 {
		t.Errorf("expected no explicit datasets, got %d", cfg.Data.Datasets.Len())
	}
	names := cfg.Data.GroupingNames()
	if len(names) != 2 || names[0] != "embryonic_layer" || names[1] != "organ_system" {
		t.Errorf("unexpected grouping names: %v", names)
	}
	if cfg.Cache.PNGSizeMB != 256 {
		t.Errorf("expected png cache 256, got %d", cfg.Cache.PNGSizeMB)
	}
}

func TestLoad_ExplicitDatasets(t *testing.T) {
	content := `
data:
  datasets:
    k12:
      path: "/data/run_k12.csv"
      display_name: "K = 12"
    k4:
      path: "/data/run_k4.csv"
      embedding_path: "/data/umap_k4.csv"
`
	cfg := loadFromString(t, content)

	if cfg.Data.NMFDir != "" {
		t.Errorf("nmf_dir default should not apply with explicit datasets, got %q", cfg.Data.NMFDir)
	}

	// Order preserved
	ids := cfg.Data.Datasets.IDs()
	if len(ids) != 2 || ids[0] != "k12" || ids[1] != "k4" {
		t.Fatalf("unexpected dataset order: %v", ids)
	}

	k4, ok := cfg.Data.Datasets.Get("k4")
	if !ok {
		t.Fatal("expected 'k4' dataset")
	}
	if k4.EmbeddingPath != "/data/umap_k4.csv" {
		t.Errorf("unexpected k4 embedding_path: %s", k4.EmbeddingPath)
	}
}

func TestLoad_DuplicateDataset(t *testing.T) {
	content := `
data:
  datasets:
    k4:
      path: "/a.csv"
    k4:
      path: "/b.csv"
`
	path := writeConfig(t, content)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate dataset id")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Selection.DimOpacity != 0.2 {
		t.Errorf("expected default dim opacity 0.2, got %v", cfg.Selection.DimOpacity)
	}
	if cfg.Selection.EmbeddingMode != EmbeddingModeOpacity {
		t.Errorf("expected opacity embedding mode, got %q", cfg.Selection.EmbeddingMode)
	}
	if cfg.Cache.QueryCacheSize != 256 {
		t.Errorf("expected default query cache 256, got %d", cfg.Cache.QueryCacheSize)
	}
	if cfg.Data.NMFDir != "./comps" {
		t.Errorf("expected default nmf_dir, got %q", cfg.Data.NMFDir)
	}
}

func TestLoad_InvalidSelection(t *testing.T) {
	for name, content := range map[string]string{
		"opacity": "selection:\n  dim_opacity: 1.5\n",
		"mode":    "selection:\n  embedding_mode: hide\n",
		"retain":  "store:\n  retention_days: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestDatasets_MarshalRoundTrip(t *testing.T) {
	var d Datasets
	d.Add("b", DatasetConfig{Path: "/b.csv"})
	d.Add("a", DatasetConfig{Path: "/a.csv"})

	out, err := yaml.Marshal(struct {
		Datasets Datasets `yaml:"datasets"`
	}{d})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back struct {
		Datasets Datasets `yaml:"datasets"`
	}
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ids := back.Datasets.IDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("order lost: %v\n%s", ids, out)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
