package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmfscope/server/internal/api"
	"github.com/nmfscope/server/internal/cache"
	"github.com/nmfscope/server/internal/config"
	"github.com/nmfscope/server/internal/metrics"
	"github.com/nmfscope/server/internal/render"
	"github.com/nmfscope/server/internal/selstore"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the configured NMF results and start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override server.port")
}

// runServe exits through log.Fatalf on construction errors: a server with
// a half-loaded dataset set is not started.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	log.Printf("Starting nmfscope server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		PNGCacheSizeMB: cfg.Cache.PNGSizeMB,
		PNGTTL:         time.Duration(cfg.Cache.PNGTTLMinutes) * time.Minute,
		QueryCacheSize: cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer (shared across all datasets)
	renderer := render.NewRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		PointSize:       cfg.Render.PointSize,
		HeatmapColormap: cfg.Render.HeatmapColormap,
	})

	store, err := selstore.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize selection store: %v", err)
	}
	retention := api.NewRetentionManager(store, api.RetentionConfig{
		RetentionDays: cfg.Store.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	retention.Start()
	defer retention.Stop()
	log.Printf("Saved selections: sqlite=%s, retention_days=%d", cfg.Store.SQLitePath, cfg.Store.RetentionDays)

	m := metrics.New()

	specs, defaultID, err := resolveDatasets(cfg.Data)
	if err != nil {
		log.Fatalf("Failed to resolve datasets: %v", err)
	}
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.ID
	}
	registry := api.NewDatasetRegistry(defaultID, ids, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(specs), defaultID)

	sessions, err := buildSessions(ctx, cfg, specs, sharedResources{
		Cache:    cacheManager,
		Renderer: renderer,
		Store:    store,
		Observer: m.Observer,
	})
	if err != nil {
		log.Fatalf("Failed to load datasets: %v", err)
	}
	for _, s := range sessions {
		registry.Register(s.ID(), s)
	}
	m.SetDatasets(registry.Len())

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Cache:       cacheManager,
		Metrics:     m,
	})

	// Create HTTP server. No write timeout: selection waits are long polls
	// bounded by their own timeout.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
	return nil
}
