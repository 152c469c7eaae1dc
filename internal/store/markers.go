package store

import (
	"time"

	"github.com/kimhsiao/arcache/internal/cache"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/models"
)

const markersDocument = "markers"

// MarkerStore persists registered markers.
type MarkerStore struct {
	file   *documentFile[*models.MarkerDocument]
	assets *cache.AssetCache
}

// NewMarkerStore creates a store backed by path.
func NewMarkerStore(path string, assets *cache.AssetCache, opts Options) *MarkerStore {
	return &MarkerStore{
		file:   newDocumentFile(markersDocument, path, models.NewMarkerDocument, opts),
		assets: assets,
	}
}

// Path returns the document path.
func (s *MarkerStore) Path() string { return s.file.path }

// Load returns the document with every marker normalized.
func (s *MarkerStore) Load() (*models.MarkerDocument, LoadResult) {
	return s.file.load()
}

// Save replaces the document. A nil document is ignored.
func (s *MarkerStore) Save(doc *models.MarkerDocument) error {
	if doc == nil {
		logging.Warn("Ignoring save of nil document",
			map[string]interface{}{"document": markersDocument})
		return nil
	}
	return s.file.store(doc)
}

// Clear deletes the document and every cached asset.
func (s *MarkerStore) Clear() error {
	if err := s.file.remove(); err != nil {
		return err
	}
	if s.assets != nil {
		return s.assets.ClearAll()
	}
	return nil
}

// LastUpdated returns the document timestamp, or models.Never.
func (s *MarkerStore) LastUpdated() time.Time {
	doc, _ := s.Load()
	return doc.LastUpdated()
}

// Get returns the marker with the given id.
func (s *MarkerStore) Get(id string) (*models.MarkerRecord, bool) {
	doc, _ := s.Load()
	i := doc.Find(id)
	if i < 0 {
		return nil, false
	}
	rec := doc.Markers[i]
	return &rec, true
}

// List returns every marker in document order.
func (s *MarkerStore) List() []models.MarkerRecord {
	doc, _ := s.Load()
	return doc.Markers
}

// ForArtifact returns the markers bound to an artifact.
func (s *MarkerStore) ForArtifact(artifactID string) []models.MarkerRecord {
	doc, _ := s.Load()
	var out []models.MarkerRecord
	for _, m := range doc.Markers {
		if m.ArtifactID == artifactID {
			out = append(out, m)
		}
	}
	return out
}

// Upsert inserts or replaces a marker. A zero CreatedAt is stamped.
func (s *MarkerStore) Upsert(rec models.MarkerRecord) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.ErrValidation, "marker id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.file.opts.Now().UTC()
	}
	return s.file.update(func(doc *models.MarkerDocument) error {
		doc.Upsert(rec)
		return nil
	})
}

// Delete removes a marker and its cached image.
func (s *MarkerStore) Delete(id string) (bool, error) {
	var removed models.MarkerRecord
	found := false
	err := s.file.updateIfChanged(func(doc *models.MarkerDocument) error {
		removed, found = doc.Remove(id)
		if !found {
			return errSkip
		}
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	if s.assets != nil && removed.LocalImagePath != "" {
		s.assets.DeleteIfExists(removed.LocalImagePath)
	}
	logging.Info("Marker deleted",
		map[string]interface{}{"marker_id": id})
	return true, nil
}

// RenameArtifact refreshes the denormalized artifact name on every bound
// marker and returns how many markers changed.
func (s *MarkerStore) RenameArtifact(artifactID, name string) (int, error) {
	changed := 0
	err := s.file.updateIfChanged(func(doc *models.MarkerDocument) error {
		for i := range doc.Markers {
			if doc.Markers[i].ArtifactID == artifactID && doc.Markers[i].ArtifactName != name {
				doc.Markers[i].ArtifactName = name
				changed++
			}
		}
		if changed == 0 {
			return errSkip
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// ReferencedPaths returns every local image path recorded in the document,
// plus the paths derive returns for each marker, along with how the document
// was loaded. derive may be nil.
func (s *MarkerStore) ReferencedPaths(derive func(m *models.MarkerRecord) []string) ([]string, LoadResult) {
	doc, res := s.Load()
	var paths []string
	for i := range doc.Markers {
		m := &doc.Markers[i]
		if m.LocalImagePath != "" {
			paths = append(paths, m.LocalImagePath)
		}
		if derive != nil {
			paths = append(paths, derive(m)...)
		}
	}
	return paths, res
}
