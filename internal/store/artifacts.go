package store

import (
	"errors"
	"time"

	"github.com/kimhsiao/arcache/internal/cache"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/models"
)

const artifactsDocument = "artifacts"

// ArtifactStore persists artifacts and scan history in one document.
type ArtifactStore struct {
	file   *documentFile[*models.ArtifactDocument]
	assets *cache.AssetCache
}

// NewArtifactStore creates a store backed by path. assets may be nil, in
// which case cached files are not cascaded on delete or clear.
func NewArtifactStore(path string, assets *cache.AssetCache, opts Options) *ArtifactStore {
	return &ArtifactStore{
		file:   newDocumentFile(artifactsDocument, path, models.NewArtifactDocument, opts),
		assets: assets,
	}
}

// Path returns the document path.
func (s *ArtifactStore) Path() string { return s.file.path }

// Load returns the document. It never fails; see LoadResult for recovery.
func (s *ArtifactStore) Load() (*models.ArtifactDocument, LoadResult) {
	return s.file.load()
}

// Save replaces the document. A nil document is ignored.
func (s *ArtifactStore) Save(doc *models.ArtifactDocument) error {
	if doc == nil {
		logging.Warn("Ignoring save of nil document",
			map[string]interface{}{"document": artifactsDocument})
		return nil
	}
	return s.file.store(doc)
}

// Clear deletes the document and every cached asset.
func (s *ArtifactStore) Clear() error {
	err := s.file.remove()
	if s.assets != nil {
		err = errors.Join(err, s.assets.ClearAll())
	}
	if err != nil {
		return err
	}
	logging.Info("Artifact store cleared",
		map[string]interface{}{"path": s.file.path})
	return nil
}

// LastUpdated returns the document timestamp, or models.Never.
func (s *ArtifactStore) LastUpdated() time.Time {
	doc, _ := s.Load()
	return doc.LastUpdated()
}

// Get returns the artifact with the given id.
func (s *ArtifactStore) Get(id string) (*models.ArtifactRecord, bool) {
	doc, _ := s.Load()
	i := doc.Find(id)
	if i < 0 {
		return nil, false
	}
	rec := doc.Artifacts[i]
	return &rec, true
}

// List returns every artifact in document order.
func (s *ArtifactStore) List() []models.ArtifactRecord {
	doc, _ := s.Load()
	return doc.Artifacts
}

// ActiveArtifacts returns the artifacts flagged active.
func (s *ArtifactStore) ActiveArtifacts() []models.ArtifactRecord {
	doc, _ := s.Load()
	active := make([]models.ArtifactRecord, 0, len(doc.Artifacts))
	for _, a := range doc.Artifacts {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return active
}

// Upsert inserts or replaces an artifact. A zero LastUpdated is stamped.
func (s *ArtifactStore) Upsert(rec models.ArtifactRecord) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrValidation, "artifact id is required")
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = s.file.opts.Now().UTC()
	}
	return s.file.update(func(doc *models.ArtifactDocument) error {
		doc.Upsert(rec)
		return nil
	})
}

// Delete removes an artifact and its cached preview and media files.
func (s *ArtifactStore) Delete(id string) (bool, error) {
	var removed models.ArtifactRecord
	found := false
	err := s.file.updateIfChanged(func(doc *models.ArtifactDocument) error {
		removed, found = doc.Remove(id)
		if !found {
			return errSkip
		}
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	s.deleteFiles(removed.LocalPaths())
	logging.Info("Artifact deleted",
		map[string]interface{}{"artifact_id": id, "media": len(removed.Media)})
	return true, nil
}

// UpsertMedia records a cached media file on an existing artifact.
func (s *ArtifactStore) UpsertMedia(artifactID string, media models.MediaCacheRecord) error {
	if media.MediaID == "" {
		return apperrors.New(apperrors.ErrValidation, "media id is required")
	}
	return s.file.update(func(doc *models.ArtifactDocument) error {
		i := doc.Find(artifactID)
		if i < 0 {
			return apperrors.New(apperrors.ErrNotFound, "artifact "+artifactID+" not found")
		}
		doc.Artifacts[i].UpsertMedia(media)
		doc.Artifacts[i].LastUpdated = s.file.opts.Now().UTC()
		return nil
	})
}

// EvictMedia drops one media entry from an artifact and deletes its file.
func (s *ArtifactStore) EvictMedia(artifactID, mediaID string) (bool, error) {
	var evicted models.MediaCacheRecord
	found := false
	err := s.file.updateIfChanged(func(doc *models.ArtifactDocument) error {
		i := doc.Find(artifactID)
		if i < 0 {
			return errSkip
		}
		evicted, found = doc.Artifacts[i].RemoveMedia(mediaID)
		if !found {
			return errSkip
		}
		doc.Artifacts[i].LastUpdated = s.file.opts.Now().UTC()
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	s.deleteFiles([]string{evicted.LocalPath})
	return true, nil
}

// AppendHistory records a scan. A zero ScannedAt is stamped.
func (s *ArtifactStore) AppendHistory(entry models.HistoryEntry) error {
	if entry.ArtifactID == "" {
		return apperrors.New(apperrors.ErrValidation, "history entry needs an artifact id")
	}
	if !entry.Status.Valid() {
		return apperrors.New(apperrors.ErrValidation, "invalid scan status "+string(entry.Status))
	}
	if entry.ScannedAt.IsZero() {
		entry.ScannedAt = s.file.opts.Now().UTC()
	}
	return s.file.update(func(doc *models.ArtifactDocument) error {
		doc.History = append(doc.History, entry)
		return nil
	})
}

// History returns the scan history in insertion order.
func (s *ArtifactStore) History() []models.HistoryEntry {
	doc, _ := s.Load()
	return doc.History
}

// ReferencedPaths returns every local path recorded in the document along
// with how the document was loaded. A recovered document yields no paths.
func (s *ArtifactStore) ReferencedPaths() ([]string, LoadResult) {
	doc, res := s.Load()
	var paths []string
	for i := range doc.Artifacts {
		paths = append(paths, doc.Artifacts[i].LocalPaths()...)
	}
	return paths, res
}

func (s *ArtifactStore) deleteFiles(paths []string) {
	if s.assets == nil {
		return
	}
	for _, p := range paths {
		s.assets.DeleteIfExists(p)
	}
}
