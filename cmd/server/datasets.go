package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/nmfscope/server/internal/cache"
	"github.com/nmfscope/server/internal/config"
	"github.com/nmfscope/server/internal/coordinator"
	"github.com/nmfscope/server/internal/data/embedding"
	"github.com/nmfscope/server/internal/data/nmf"
	"github.com/nmfscope/server/internal/render"
	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/selstore"
	"github.com/nmfscope/server/internal/service"
	"github.com/nmfscope/server/pkg/colormap"
)

// datasetSpec is one NMF result to load.
type datasetSpec struct {
	ID            string `yaml:"id"`
	DisplayName   string `yaml:"display_name"`
	Path          string `yaml:"path"`
	EmbeddingPath string `yaml:"embedding_path,omitempty"`
}

// resolveDatasets lists the datasets to serve and picks the default one.
// Explicit datasets win over directory discovery.
func resolveDatasets(data config.DataConfig) ([]datasetSpec, string, error) {
	var specs []datasetSpec
	defaultID := ""

	if data.Datasets.Len() > 0 {
		for _, id := range data.Datasets.IDs() {
			ds, _ := data.Datasets.Get(id)
			if ds.Path == "" {
				return nil, "", fmt.Errorf("dataset %q: path is required", id)
			}
			emb := ds.EmbeddingPath
			if emb == "" {
				emb = data.EmbeddingPath
			}
			specs = append(specs, datasetSpec{ID: id, DisplayName: ds.DisplayName, Path: ds.Path, EmbeddingPath: emb})
			if id == data.DefaultFile || filepath.Base(ds.Path) == data.DefaultFile {
				defaultID = id
			}
		}
	} else {
		files, err := nmf.DiscoverKFiles(data.NMFDir, data.FilePattern)
		if err != nil {
			return nil, "", err
		}
		for _, f := range files {
			id := fmt.Sprintf("k%d", f.K)
			specs = append(specs, datasetSpec{ID: id, DisplayName: f.DisplayName, Path: f.Path, EmbeddingPath: data.EmbeddingPath})
			if f.Filename == data.DefaultFile || id == data.DefaultFile {
				defaultID = id
			}
		}
	}

	if len(specs) == 0 {
		return nil, "", fmt.Errorf("no NMF result files found in %s matching %q", data.NMFDir, data.FilePattern)
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, "", fmt.Errorf("duplicate dataset id %q (two files with the same K?)", s.ID)
		}
		seen[s.ID] = true
	}
	if defaultID == "" {
		if data.DefaultFile != "" {
			log.Printf("default_file %q not found, using %s", data.DefaultFile, specs[0].ID)
		}
		defaultID = specs[0].ID
	}
	return specs, defaultID, nil
}

// sharedResources are used by every session.
type sharedResources struct {
	Cache    *cache.Manager
	Renderer *render.Renderer
	Store    *selstore.Store
	Observer func(datasetID string) coordinator.Observer
}

// loadedDataset is one dataset read from disk, before it backs a session.
type loadedDataset struct {
	spec        datasetSpec
	dataset     *nmf.Dataset
	coordinates *embedding.Coordinates
}

// loadDatasets reads every dataset in parallel. Any load error aborts the
// whole set.
func loadDatasets(ctx context.Context, data config.DataConfig, specs []datasetSpec) ([]loadedDataset, error) {
	out := make([]loadedDataset, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := nmf.LoadCSV(spec.Path, data.SampleIDColumn)
			if err != nil {
				return fmt.Errorf("dataset %q: %w", spec.ID, err)
			}

			var coords *embedding.Coordinates
			if spec.EmbeddingPath != "" {
				idx, err := sample.NewIndex(ds.SampleIDs)
				if err != nil {
					return fmt.Errorf("dataset %q: %w", spec.ID, err)
				}
				coords, err = embedding.LoadCSV(spec.EmbeddingPath, data.SampleIDColumn, idx)
				if err != nil {
					return fmt.Errorf("dataset %q: %w", spec.ID, err)
				}
				if coords.Extra > 0 {
					log.Printf("  [%s] embedding has %d rows for unknown samples", spec.ID, coords.Extra)
				}
			}

			out[i] = loadedDataset{spec: spec, dataset: ds, coordinates: coords}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// buildSessions loads every dataset and creates its session.
func buildSessions(ctx context.Context, cfg *config.Config, specs []datasetSpec, res sharedResources) ([]*service.Session, error) {
	groupings := make(map[string]*nmf.Grouping, len(cfg.Data.Groupings))
	for _, name := range cfg.Data.GroupingNames() {
		g, err := nmf.LoadGroupings(cfg.Data.Groupings[name])
		if err != nil {
			return nil, fmt.Errorf("grouping %q: %w", name, err)
		}
		groupings[name] = g
	}
	componentColors, err := colormap.LoadOverrides(cfg.Data.ComponentColors)
	if err != nil {
		return nil, err
	}
	categoryColors, err := colormap.LoadOverrides(cfg.Data.CategoryColors)
	if err != nil {
		return nil, err
	}

	loaded, err := loadDatasets(ctx, cfg.Data, specs)
	if err != nil {
		return nil, err
	}

	sessions := make([]*service.Session, 0, len(loaded))
	for _, l := range loaded {
		var obs coordinator.Observer
		if res.Observer != nil {
			obs = res.Observer(l.spec.ID)
		}
		s, err := service.NewSession(service.SessionConfig{
			DatasetID:       l.spec.ID,
			DisplayName:     l.spec.DisplayName,
			Dataset:         l.dataset,
			Coordinates:     l.coordinates,
			Groupings:       groupings,
			ComponentColors: componentColors,
			CategoryColors:  categoryColors,
			DimOpacity:      cfg.Selection.DimOpacity,
			FilterMode:      cfg.Selection.EmbeddingMode == config.EmbeddingModeFilter,
			WarningHistory:  cfg.Selection.WarningHistory,
			Cache:           res.Cache,
			Renderer:        res.Renderer,
			Store:           res.Store,
			Observer:        obs,
		})
		if err != nil {
			var shape *nmf.DataShapeMismatchError
			if errors.As(err, &shape) {
				return nil, fmt.Errorf("dataset %q is inconsistent: %w", l.spec.ID, err)
			}
			return nil, fmt.Errorf("dataset %q: %w", l.spec.ID, err)
		}
		log.Printf("  [%s] Loaded from: %s", l.spec.ID, l.spec.Path)
		sessions = append(sessions, s)
	}
	return sessions, nil
}
