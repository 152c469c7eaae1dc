package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/kimhsiao/arcache/internal/cache"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/models"
	"github.com/kimhsiao/arcache/internal/store"
	"github.com/kimhsiao/arcache/internal/uuid"
)

// DefaultMediaExt is used when neither the URL nor the input names an extension.
const DefaultMediaExt = ".bin"

// MediaInput describes a media file to cache for an artifact.
type MediaInput struct {
	// MediaID is generated when empty.
	MediaID    string
	MediaType  models.MediaType
	RemoteURL  string
	DefaultExt string
	Metadata   map[string]interface{}
}

// CachedMedia is the outcome of CacheMedia.
type CachedMedia struct {
	Record models.MediaCacheRecord
	// Hit is true when the file was already cached and the body was not read.
	Hit   bool
	Bytes int64
}

// ArtifactService manages artifacts, their cached media and scan history.
type ArtifactService struct {
	artifacts *store.ArtifactStore
	markers   *store.MarkerStore
	assets    *cache.AssetCache
	now       func() time.Time
}

// NewArtifactService creates an ArtifactService.
func NewArtifactService(artifacts *store.ArtifactStore, markers *store.MarkerStore, assets *cache.AssetCache) *ArtifactService {
	return &ArtifactService{
		artifacts: artifacts,
		markers:   markers,
		assets:    assets,
		now:       time.Now,
	}
}

// SaveArtifact stores an artifact and refreshes the artifact name copied onto
// its markers.
func (s *ArtifactService) SaveArtifact(rec models.ArtifactRecord) error {
	if err := s.artifacts.Upsert(rec); err != nil {
		return err
	}
	if rec.Name == "" {
		return nil
	}
	changed, err := s.markers.RenameArtifact(rec.ID, rec.Name)
	if err != nil {
		return err
	}
	if changed > 0 {
		logging.Debug("Marker artifact names refreshed",
			map[string]interface{}{"artifact_id": rec.ID, "markers": changed})
	}
	return nil
}

// CacheMedia writes body to the deterministic cache path of the media and
// records it on the artifact. The artifact must exist. body is not read when
// the file is cached for the same remote URL, or when a file exists with no
// record for the media yet. A changed remote URL always rewrites the file.
func (s *ArtifactService) CacheMedia(ctx context.Context, artifactID string, in MediaInput, body io.Reader) (*CachedMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !in.MediaType.Valid() {
		return nil, apperrors.New(apperrors.ErrValidation, "invalid media type "+string(in.MediaType))
	}
	artifact, ok := s.artifacts.Get(artifactID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "artifact "+artifactID+" not found")
	}

	mediaID := uuid.OrNew(in.MediaID)
	defaultExt := in.DefaultExt
	if defaultExt == "" {
		defaultExt = DefaultMediaExt
	}
	path := s.assets.ResolveMediaPath(artifactID, mediaID, in.RemoteURL, defaultExt)

	var existing *models.MediaCacheRecord
	if i := artifact.FindMedia(mediaID); i >= 0 {
		existing = &artifact.Media[i]
		if existing.LocalPath == path && existing.RemoteURL == in.RemoteURL && s.assets.IsCached(path) {
			return &CachedMedia{Record: *existing, Hit: true}, nil
		}
	}

	result := &CachedMedia{}
	reusable := existing == nil || existing.RemoteURL == in.RemoteURL
	if reusable && s.assets.IsCached(path) {
		result.Hit = true
	} else {
		if body == nil {
			return nil, apperrors.New(apperrors.ErrValidation, "media body is required")
		}
		n, err := s.assets.Store(path, &contextReader{ctx: ctx, r: body})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, ctxErr
			}
			return nil, err
		}
		result.Bytes = n
	}

	result.Record = models.MediaCacheRecord{
		MediaID:   mediaID,
		MediaType: in.MediaType,
		RemoteURL: in.RemoteURL,
		LocalPath: path,
		CachedAt:  s.now().UTC(),
		Metadata:  in.Metadata,
	}
	if err := s.artifacts.UpsertMedia(artifactID, result.Record); err != nil {
		return nil, err
	}
	if existing != nil && existing.LocalPath != "" && existing.LocalPath != path {
		s.assets.DeleteIfExists(existing.LocalPath)
	}

	logging.Info("Media cached",
		map[string]interface{}{
			"artifact_id": artifactID,
			"media_id":    mediaID,
			"media_type":  string(in.MediaType),
			"hit":         result.Hit,
			"bytes":       result.Bytes,
		})
	return result, nil
}

// RecordScan appends a scan to the history.
func (s *ArtifactService) RecordScan(entry models.HistoryEntry) error {
	return s.artifacts.AppendHistory(entry)
}

// DeleteArtifact removes an artifact and its cached files.
func (s *ArtifactService) DeleteArtifact(id string) (bool, error) {
	return s.artifacts.Delete(id)
}

// ClearAll deletes both documents and every cached asset.
func (s *ArtifactService) ClearAll() error {
	return errors.Join(s.artifacts.Clear(), s.markers.Clear())
}

// PruneOrphans removes cached files no document references, such as files
// left by an interrupted registration. Nothing is removed unless both
// documents loaded cleanly.
func (s *ArtifactService) PruneOrphans() (int, error) {
	artifactPaths, res := s.artifacts.ReferencedPaths()
	if err := pruneGuard("artifacts", res); err != nil {
		return 0, err
	}
	markerPaths, res := s.markers.ReferencedPaths(func(m *models.MarkerRecord) []string {
		return []string{s.assets.ResolvePreviewPath(m.ID, "")}
	})
	if err := pruneGuard("markers", res); err != nil {
		return 0, err
	}

	keep := make(map[string]bool, len(artifactPaths)+len(markerPaths))
	for _, p := range artifactPaths {
		keep[p] = true
	}
	for _, p := range markerPaths {
		keep[p] = true
	}
	removed, _, err := s.assets.Prune(keep)
	return removed, err
}

func pruneGuard(document string, res store.LoadResult) error {
	if !res.Recovered() {
		return nil
	}
	logging.Warn("Prune skipped, document not usable",
		map[string]interface{}{"document": document, "status": string(res.Status)})
	return res.Err
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
