package main

import (
	"context"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nmfscope/server/internal/config"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load the configured NMF results and print a summary",
	Long: `Load every configured NMF result the same way 'serve' does and print what
would be served, as YAML. Use it to check a configuration before starting
the server: shape errors, missing embedding rows and bad color overrides are
reported here too.`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// inspectDataset is the YAML form of one dataset.
type inspectDataset struct {
	datasetSpec `yaml:",inline"`
	Default     bool     `yaml:"default"`
	K           int      `yaml:"k"`
	Samples     int      `yaml:"samples"`
	Components  []string `yaml:"components"`
	Annotations []string `yaml:"annotations"`
	Embedding   string   `yaml:"embedding"`
	SortMethod  string   `yaml:"sort_method"`
}

type inspectOutput struct {
	Config   string           `yaml:"config"`
	Datasets []inspectDataset `yaml:"datasets"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	specs, defaultID, err := resolveDatasets(cfg.Data)
	if err != nil {
		return err
	}
	sessions, err := buildSessions(context.Background(), cfg, specs, sharedResources{})
	if err != nil {
		return err
	}

	out := inspectOutput{Config: configPath}
	for i, s := range sessions {
		md := s.Metadata()
		comps := make([]string, len(md.Components))
		for j, c := range md.Components {
			comps[j] = c.Name
		}
		out.Datasets = append(out.Datasets, inspectDataset{
			datasetSpec: specs[i],
			Default:     specs[i].ID == defaultID,
			K:           md.K,
			Samples:     md.NumSamples,
			Components:  comps,
			Annotations: md.Annotations,
			Embedding:   md.EmbeddingSource,
			SortMethod:  string(md.SortMethod),
		})
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(out)
}
