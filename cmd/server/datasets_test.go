package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nmfscope/server/internal/config"
)

const k3CSV = `sample_id,C1,C2,C3,stage
BRCA-1,0.9,0.1,0.0,I
LUAD-1,0.1,0.8,0.1,II
BRCA-2,0.7,0.2,0.1,I
SKCM-1,0.0,0.3,0.6,III
`

const k2CSV = `sample_id,C1,C2
BRCA-1,0.9,0.1
LUAD-1,0.1,0.8
BRCA-2,0.7,0.2
SKCM-1,0.0,0.3
`

const umapCSV = `sample_id,x,y
SKCM-1,3,3
BRCA-1,0,0
LUAD-1,1,2
BRCA-2,0.5,0.1
`

const organJSON = `{"organ_system_groupings":[
  {"group_name":"Breast","color":"#e41a1c","cancer_codes":["BRCA"]},
  {"group_name":"Thoracic","color":"#377eb8","cancer_codes":["LUAD","LUSC"]}
]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestResolveDatasetsDiscovery(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pancan_k3.csv", k3CSV)
	writeFile(t, dir, "pancan_k2.csv", k2CSV)
	writeFile(t, dir, "notes.csv", "a,b\n")

	data := config.DefaultConfig().Data
	data.NMFDir = dir

	specs, def, err := resolveDatasets(data)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "k2", specs[0].ID)
	assert.Equal(t, "K = 3", specs[1].DisplayName)
	assert.Equal(t, "k2", def)

	data.DefaultFile = "pancan_k3.csv"
	_, def, err = resolveDatasets(data)
	require.NoError(t, err)
	assert.Equal(t, "k3", def)
}

func TestResolveDatasetsExplicit(t *testing.T) {
	data := config.DefaultConfig().Data
	data.EmbeddingPath = "/data/umap.csv"
	data.DefaultFile = "late"
	data.Datasets.Add("early", config.DatasetConfig{Path: "/data/a_k4.csv"})
	data.Datasets.Add("late", config.DatasetConfig{Path: "/data/b_k9.csv", EmbeddingPath: "/data/b_umap.csv"})

	specs, def, err := resolveDatasets(data)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "late", def)
	assert.Equal(t, "/data/umap.csv", specs[0].EmbeddingPath)
	assert.Equal(t, "/data/b_umap.csv", specs[1].EmbeddingPath)

	data.Datasets.Add("broken", config.DatasetConfig{})
	_, _, err = resolveDatasets(data)
	assert.Error(t, err)
}

func TestResolveDatasetsEmptyDir(t *testing.T) {
	data := config.DefaultConfig().Data
	data.NMFDir = t.TempDir()
	_, _, err := resolveDatasets(data)
	assert.Error(t, err)
}

func TestBuildSessions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pancan_k3.csv", k3CSV)
	writeFile(t, dir, "pancan_k2.csv", k2CSV)
	umap := writeFile(t, dir, "umap.csv", umapCSV)
	organ := writeFile(t, dir, "organ.json", organJSON)

	cfg := config.DefaultConfig()
	cfg.Data.NMFDir = dir
	cfg.Data.EmbeddingPath = umap
	cfg.Data.Groupings = map[string]string{"organ_system": organ}

	specs, _, err := resolveDatasets(cfg.Data)
	require.NoError(t, err)
	sessions, err := buildSessions(context.Background(), cfg, specs, sharedResources{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	k3 := sessions[1]
	md := k3.Metadata()
	assert.Equal(t, "k3", md.ID)
	assert.Equal(t, 3, md.K)
	assert.Equal(t, []string{"cancer_type", "organ_system", "stage"}, md.Annotations)
	assert.Equal(t, umap, md.EmbeddingSource)
	assert.Equal(t, "#377eb8", md.CategoryColors["organ_system"]["Thoracic"])

	emb := k3.Embedding()
	assert.Equal(t, 3.0, emb.Points[3].X)
}

func TestBuildSessionsMissingEmbeddingRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pancan_k3.csv", k3CSV)
	umap := writeFile(t, dir, "umap.csv", "sample_id,x,y\nBRCA-1,0,0\n")

	cfg := config.DefaultConfig()
	cfg.Data.NMFDir = dir
	cfg.Data.EmbeddingPath = umap

	specs, _, err := resolveDatasets(cfg.Data)
	require.NoError(t, err)
	_, err = buildSessions(context.Background(), cfg, specs, sharedResources{})
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pancan_k3.csv", k3CSV)
	cfgPath := writeFile(t, dir, "server.yaml", "data:\n  nmf_dir: "+dir+"\n")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"inspect", "--config", cfgPath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	var parsed inspectOutput
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &parsed))
	require.Len(t, parsed.Datasets, 1)
	ds := parsed.Datasets[0]
	assert.Equal(t, "k3", ds.ID)
	assert.True(t, ds.Default)
	assert.Equal(t, 4, ds.Samples)
	assert.Equal(t, []string{"C1", "C2", "C3"}, ds.Components)
	assert.Equal(t, "projection:C1,C2", ds.Embedding)
}
