// Package services composes the ingestion gate, the asset cache and the
// document stores into the operations an application shell calls.
package services

import (
	"context"

	"github.com/kimhsiao/arcache/internal/cache"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/ingest"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/media"
	"github.com/kimhsiao/arcache/internal/models"
	"github.com/kimhsiao/arcache/internal/store"
	"github.com/kimhsiao/arcache/internal/uuid"
)

// MarkerInput is a candidate marker image and its metadata.
type MarkerInput struct {
	// ID is generated when empty.
	ID        string
	Image     []byte
	RemoteURL string
	// SizeCm defaults to 10 when not positive.
	SizeCm       int
	ArtifactID   string
	ArtifactName string
}

// Registration is the outcome of RegisterMarker. Marker is nil when the
// image was rejected.
type Registration struct {
	Verdict      *ingest.Result
	Marker       *models.MarkerRecord
	PreviewJobID string
}

// Accepted reports whether a marker was registered.
func (r *Registration) Accepted() bool {
	return r.Marker != nil
}

// MarkerService registers and removes AR markers.
type MarkerService struct {
	gate     *ingest.Gate
	assets   *cache.AssetCache
	markers  *store.MarkerStore
	previews *media.PreviewQueue
}

// NewMarkerService creates a MarkerService. previews may be nil.
func NewMarkerService(gate *ingest.Gate, assets *cache.AssetCache, markers *store.MarkerStore, previews *media.PreviewQueue) *MarkerService {
	return &MarkerService{
		gate:     gate,
		assets:   assets,
		markers:  markers,
		previews: previews,
	}
}

// RegisterMarker runs the gate and, on acceptance, caches the canonical square
// image and records the marker. A rejection is returned as a Registration
// without a marker; storage is untouched.
func (s *MarkerService) RegisterMarker(ctx context.Context, in MarkerInput) (*Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Image) == 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "marker image is required")
	}

	verdict, err := s.gate.Ingest(in.Image)
	if err != nil {
		return nil, err
	}
	reg := &Registration{Verdict: verdict}
	if !verdict.Accepted {
		logging.Info("Marker rejected",
			map[string]interface{}{"reason": verdict.Reason, "score": verdict.Quality.Score})
		return reg, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.OrNew(in.ID)

	imagePath := s.assets.ResolvePath(cache.DirMarkers, id, cache.MarkerImageAsset, in.RemoteURL, "."+verdict.Image.Format.Ext)
	if err := s.assets.EnsureDirectories(); err != nil {
		return nil, err
	}
	if _, err := s.assets.StoreBytes(imagePath, verdict.Image.Data); err != nil {
		return nil, err
	}

	rec := models.MarkerRecord{
		ID:             id,
		RemoteURL:      in.RemoteURL,
		LocalImagePath: imagePath,
		SizeCm:         in.SizeCm,
		ArtifactID:     in.ArtifactID,
		ArtifactName:   in.ArtifactName,
	}
	if err := s.markers.Upsert(rec); err != nil {
		s.assets.DeleteIfExists(imagePath)
		return nil, err
	}

	stored, ok := s.markers.Get(id)
	if !ok {
		return nil, apperrors.New(apperrors.ErrInternal, "marker "+id+" missing after save")
	}
	reg.Marker = stored

	if s.previews != nil && s.previews.IsRunning() {
		jobID, err := s.previews.Generate(imagePath, s.assets.ResolvePreviewPath(id, ""), nil)
		if err != nil {
			logging.Warn("Preview not scheduled",
				map[string]interface{}{"marker_id": id, "error": err.Error()})
		}
		reg.PreviewJobID = jobID
	}

	logging.Info("Marker registered",
		map[string]interface{}{
			"marker_id":   id,
			"artifact_id": in.ArtifactID,
			"score":       verdict.Quality.Score,
			"path":        imagePath,
		})
	return reg, nil
}

// RemoveMarker deletes a marker, its cached image and its preview.
func (s *MarkerService) RemoveMarker(id string) (bool, error) {
	removed, err := s.markers.Delete(id)
	if err != nil {
		return false, err
	}
	s.assets.DeleteIfExists(s.assets.ResolvePreviewPath(id, ""))
	return removed, nil
}
