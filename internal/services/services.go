package services

import (
	"context"
	"io"
	"os"

	"github.com/kimhsiao/arcache/internal/cache"
	"github.com/kimhsiao/arcache/internal/config"
	"github.com/kimhsiao/arcache/internal/ingest"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/media"
	"github.com/kimhsiao/arcache/internal/progress"
	"github.com/kimhsiao/arcache/internal/store"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

// Services is every component wired from one configuration. It is the only
// place the components are constructed; callers pass it explicitly.
type Services struct {
	Config    *config.Config
	Metrics   *telemetry.Metrics
	Assets    *cache.AssetCache
	Artifacts *store.ArtifactStore
	Markers   *store.MarkerStore
	Gate      *ingest.Gate
	Previews  *media.PreviewQueue

	MarkerService   *MarkerService
	ArtifactService *ArtifactService
}

// New validates cfg and wires the components. Logs go to logOut (stdout when
// nil) at the configured level. Nothing is written to disk.
func New(cfg *config.Config, logOut io.Writer) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stdout
	}
	logging.Init(logOut, logging.ParseLevel(cfg.Logging.Level))

	metrics := telemetry.New()
	assets := cache.NewFromConfig(cfg, metrics)
	opts := store.OptionsFromConfig(cfg, metrics)
	artifacts := store.NewArtifactStore(cfg.ArtifactsDocumentPath(), assets, opts)
	markers := store.NewMarkerStore(cfg.MarkersDocumentPath(), assets, opts)
	gate := ingest.NewGate(nil, &cfg.Ingest, metrics)
	previews := media.NewPreviewQueue(cfg.Ingest.PreviewQueueSize, cfg.Ingest.PreviewWorkers, cfg.Ingest.PreviewSize, assets)

	return &Services{
		Config:          cfg,
		Metrics:         metrics,
		Assets:          assets,
		Artifacts:       artifacts,
		Markers:         markers,
		Gate:            gate,
		Previews:        previews,
		MarkerService:   NewMarkerService(gate, assets, markers, previews),
		ArtifactService: NewArtifactService(artifacts, markers, assets),
	}, nil
}

// Start creates the cache directories and starts preview generation.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Assets.EnsureDirectories(); err != nil {
		return err
	}
	s.Previews.Start(ctx)
	logging.Info("Asset cache services started",
		map[string]interface{}{"storage_root": s.Config.StorageRoot})
	return nil
}

// Stop stops preview generation and waits for previews being rendered.
// Previews still queued are dropped.
func (s *Services) Stop() {
	s.Previews.Stop()
}

// NewTracker creates a download progress tracker using the configured timings.
func (s *Services) NewTracker(loader progress.Loader, observer progress.Observer) *progress.Tracker {
	return progress.NewTracker(loader, observer, &s.Config.Tracker, s.Metrics)
}
