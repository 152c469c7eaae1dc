package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/arcache/internal/cache"
	"github.com/kimhsiao/arcache/internal/config"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/models"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

type fixture struct {
	root      string
	assets    *cache.AssetCache
	artifacts *ArtifactStore
	markers   *MarkerStore
	metrics   *telemetry.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default(t.TempDir())
	m := telemetry.New()
	assets := cache.NewFromConfig(cfg, m)
	opts := OptionsFromConfig(cfg, m)
	opts.Now = func() time.Time { return fixedNow }
	return &fixture{
		root:      cfg.StorageRoot,
		assets:    assets,
		artifacts: NewArtifactStore(cfg.ArtifactsDocumentPath(), assets, opts),
		markers:   NewMarkerStore(cfg.MarkersDocumentPath(), assets, opts),
		metrics:   m,
	}
}

// =====================================================
// Load / Recovery Tests
// =====================================================

// TestLoad_absent verifies a missing file yields an empty document.
func TestLoad_absent(t *testing.T) {
	f := newFixture(t)

	doc, res := f.artifacts.Load()
	assert.Equal(t, StatusAbsent, res.Status)
	assert.NoError(t, res.Err)
	assert.False(t, res.Recovered())
	assert.Empty(t, doc.Artifacts)
	assert.NotNil(t, doc.History)
	assert.True(t, doc.LastUpdated().Equal(models.Never))
}

// TestLoad_corrupt verifies invalid content yields an empty document and a corrupt status.
func TestLoad_corrupt(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":   "{not json",
		"truncated": `{"markers":[{"id":"m1"`,
		"empty":     "",
		"wrongType": `{"markers":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, os.WriteFile(f.markers.Path(), []byte(content), 0644))

			doc, res := f.markers.Load()
			assert.Equal(t, StatusCorrupt, res.Status)
			assert.True(t, res.Recovered())
			assert.True(t, apperrors.Is(res.Err, apperrors.ErrCorruptData))
			assert.NotNil(t, doc.Markers)
			assert.Empty(t, doc.Markers)
		})
	}
}

// TestLoad_unreadable verifies read failures are reported separately from corruption.
func TestLoad_unreadable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.artifacts.Path(), 0755))

	doc, res := f.artifacts.Load()
	assert.Equal(t, StatusUnreadable, res.Status)
	assert.True(t, apperrors.Is(res.Err, apperrors.ErrIOFailure))
	assert.Empty(t, doc.Artifacts)

	err := f.artifacts.Upsert(models.ArtifactRecord{ID: "a1"})
	assert.Error(t, err, "update must not overwrite an unreadable document")
}

// TestLoad_normalizesMarkers verifies non-positive sizes default to 10 cm.
func TestLoad_normalizesMarkers(t *testing.T) {
	f := newFixture(t)
	content := `{"markers":[{"id":"a","size_cm":0},{"id":"b","size_cm":-3},{"id":"c","size_cm":25}],"last_update":"bogus"}`
	require.NoError(t, os.WriteFile(f.markers.Path(), []byte(content), 0644))

	doc, res := f.markers.Load()
	require.Equal(t, StatusLoaded, res.Status)
	require.Len(t, doc.Markers, 3)
	assert.Equal(t, 10, doc.Markers[0].SizeCm)
	assert.Equal(t, 10, doc.Markers[1].SizeCm)
	assert.Equal(t, 25, doc.Markers[2].SizeCm)
	assert.True(t, doc.LastUpdated().Equal(models.Never))
}

// =====================================================
// Save Tests
// =====================================================

// TestSave_roundTrip verifies every field survives save and load.
func TestSave_roundTrip(t *testing.T) {
	f := newFixture(t)
	doc := models.NewArtifactDocument()
	doc.Upsert(models.ArtifactRecord{
		ID:               "a1",
		TargetID:         "t1",
		Name:             "Vase",
		PreviewRemoteURL: "https://cdn/p.jpg",
		IsActive:         true,
		LastUpdated:      fixedNow,
		Media: []models.MediaCacheRecord{{
			MediaID:   "m1",
			MediaType: models.MediaModel,
			RemoteURL: "https://cdn/vase.glb",
			LocalPath: "/x/a1_m1.glb",
			CachedAt:  fixedNow,
			Metadata:  map[string]interface{}{"lod": "high"},
		}},
	})
	doc.History = append(doc.History, models.HistoryEntry{ArtifactID: "a1", ScannedAt: fixedNow, Status: models.ScanOK})

	require.NoError(t, f.artifacts.Save(doc))

	loaded, res := f.artifacts.Load()
	require.Equal(t, StatusLoaded, res.Status)
	assert.Equal(t, doc.Artifacts, loaded.Artifacts)
	assert.Equal(t, doc.History, loaded.History)
	assert.True(t, loaded.LastUpdated().Equal(fixedNow))
	assert.True(t, f.artifacts.LastUpdated().Equal(fixedNow))
}

// TestSave_nil verifies a nil document is a no-op.
func TestSave_nil(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.artifacts.Save(nil))
	assert.NoError(t, f.markers.Save(nil))

	_, err := os.Stat(f.artifacts.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// TestSave_leavesNoTempFiles verifies the directory only holds the document.
func TestSave_leavesNoTempFiles(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: strings.Repeat("m", i+1)}))
	}

	entries, err := os.ReadDir(filepath.Dir(f.markers.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover %s", e.Name())
	}
}

// TestSave_concurrentReaders verifies readers never observe a partial document.
func TestSave_concurrentReaders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "seed"}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var corrupt int
	var mu sync.Mutex

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, res := f.markers.Load(); res.Status != StatusLoaded {
					mu.Lock()
					corrupt++
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m", SizeCm: i + 1}))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, corrupt)
}

// TestUpsert_concurrentWriters verifies serialized read-modify-write keeps every record.
func TestUpsert_concurrentWriters(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: string(rune('a' + i))}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.markers.List(), 20)
}

// =====================================================
// Clear Tests
// =====================================================

// TestClear_emptyDocument saves an empty document, clears, and checks nothing is left.
func TestClear_emptyDocument(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.assets.EnsureDirectories())
	require.NoError(t, f.artifacts.Save(models.NewArtifactDocument()))

	require.NoError(t, f.artifacts.Clear())

	for _, p := range []string{f.artifacts.Path(), f.assets.MediaDir(), f.assets.MarkerDir()} {
		_, err := os.Stat(p)
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s still exists", p)
	}
	assert.NoError(t, f.artifacts.Clear(), "clearing twice")
}

// TestClear_markers verifies the marker store clears its document and the cache.
func TestClear_markers(t *testing.T) {
	f := newFixture(t)
	p := f.assets.ResolveMarkerImagePath("m1", "")
	_, err := f.assets.StoreBytes(p, []byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m1", LocalImagePath: p}))

	require.NoError(t, f.markers.Clear())

	assert.Empty(t, f.markers.List())
	assert.False(t, f.assets.IsCached(p))
}

// =====================================================
// Artifact Operation Tests
// =====================================================

// TestArtifacts_upsertGetList verifies basic record operations.
func TestArtifacts_upsertGetList(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.artifacts.Upsert(models.ArtifactRecord{ID: "a1", Name: "Vase", IsActive: true}))
	require.NoError(t, f.artifacts.Upsert(models.ArtifactRecord{ID: "a2", Name: "Bowl"}))
	require.NoError(t, f.artifacts.Upsert(models.ArtifactRecord{ID: "a1", Name: "Tall vase", IsActive: true}))

	rec, ok := f.artifacts.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "Tall vase", rec.Name)
	assert.True(t, rec.LastUpdated.Equal(fixedNow))

	_, ok = f.artifacts.Get("missing")
	assert.False(t, ok)

	assert.Len(t, f.artifacts.List(), 2)
	active := f.artifacts.ActiveArtifacts()
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)

	err := f.artifacts.Upsert(models.ArtifactRecord{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

// TestArtifacts_deleteCascades verifies cached files of a deleted artifact are removed.
func TestArtifacts_deleteCascades(t *testing.T) {
	f := newFixture(t)
	preview := f.assets.ResolvePreviewPath("a1", "")
	model := f.assets.ResolveMediaPath("a1", "m1", "https://cdn/v.glb", ".bin")
	for _, p := range []string{preview, model} {
		_, err := f.assets.StoreBytes(p, []byte("data"))
		require.NoError(t, err)
	}
	require.NoError(t, f.artifacts.Upsert(models.ArtifactRecord{
		ID:               "a1",
		PreviewLocalPath: preview,
		Media:            []models.MediaCacheRecord{{MediaID: "m1", MediaType: models.MediaModel, LocalPath: model}},
	}))

	deleted, err := f.artifacts.Delete("a1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, f.assets.IsCached(preview))
	assert.False(t, f.assets.IsCached(model))
	assert.Empty(t, f.artifacts.List())

	deleted, err = f.artifacts.Delete("a1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

// TestArtifacts_media verifies media upsert and eviction.
func TestArtifacts_media(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.artifacts.Upsert(models.ArtifactRecord{ID: "a1"}))
	model := f.assets.ResolveMediaPath("a1", "m1", "", ".glb")
	_, err := f.assets.StoreBytes(model, []byte("glb"))
	require.NoError(t, err)

	require.NoError(t, f.artifacts.UpsertMedia("a1", models.MediaCacheRecord{MediaID: "m1", MediaType: models.MediaModel, LocalPath: model}))
	err = f.artifacts.UpsertMedia("nope", models.MediaCacheRecord{MediaID: "m1"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	err = f.artifacts.UpsertMedia("a1", models.MediaCacheRecord{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	rec, _ := f.artifacts.Get("a1")
	require.Len(t, rec.Media, 1)
	paths, res := f.artifacts.ReferencedPaths()
	assert.Equal(t, []string{model}, paths)
	assert.Equal(t, StatusLoaded, res.Status)

	evicted, err := f.artifacts.EvictMedia("a1", "m1")
	require.NoError(t, err)
	assert.True(t, evicted)
	assert.False(t, f.assets.IsCached(model))

	evicted, err = f.artifacts.EvictMedia("a1", "m1")
	require.NoError(t, err)
	assert.False(t, evicted)
}

// TestArtifacts_history verifies append-only history with validation.
func TestArtifacts_history(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.artifacts.AppendHistory(models.HistoryEntry{ArtifactID: "a1", Status: models.ScanOK}))
	require.NoError(t, f.artifacts.AppendHistory(models.HistoryEntry{ArtifactID: "a2", Status: models.ScanWarning, StatusDetails: "low light"}))

	err := f.artifacts.AppendHistory(models.HistoryEntry{ArtifactID: "a3", Status: "great"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	err = f.artifacts.AppendHistory(models.HistoryEntry{Status: models.ScanOK})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	history := f.artifacts.History()
	require.Len(t, history, 2)
	assert.Equal(t, "a1", history[0].ArtifactID)
	assert.True(t, history[0].ScannedAt.Equal(fixedNow))
	assert.Equal(t, "low light", history[1].StatusDetails)
}

// =====================================================
// Marker Operation Tests
// =====================================================

// TestMarkers_operations verifies marker CRUD and artifact binding helpers.
func TestMarkers_operations(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m1", ArtifactID: "a1", ArtifactName: "Vase"}))
	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m2", ArtifactID: "a1", ArtifactName: "Vase", SizeCm: 20}))
	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m3", ArtifactID: "a2"}))

	rec, ok := f.markers.Get("m1")
	require.True(t, ok)
	assert.Equal(t, models.DefaultMarkerSizeCm, rec.SizeCm)
	assert.True(t, rec.CreatedAt.Equal(fixedNow))

	assert.Len(t, f.markers.ForArtifact("a1"), 2)
	assert.Empty(t, f.markers.ForArtifact("zzz"))

	changed, err := f.markers.RenameArtifact("a1", "Tall vase")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	changed, err = f.markers.RenameArtifact("a1", "Tall vase")
	require.NoError(t, err)
	assert.Zero(t, changed)
	rec, _ = f.markers.Get("m2")
	assert.Equal(t, "Tall vase", rec.ArtifactName)

	deleted, err := f.markers.Delete("m3")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Len(t, f.markers.List(), 2)

	assert.True(t, apperrors.Is(f.markers.Upsert(models.MarkerRecord{}), apperrors.ErrValidation))
}

// TestMarkers_deleteCascades verifies the cached marker image is removed.
func TestMarkers_deleteCascades(t *testing.T) {
	f := newFixture(t)
	p := f.assets.ResolveMarkerImagePath("m1", "https://cdn/m1.png")
	_, err := f.assets.StoreBytes(p, []byte("png"))
	require.NoError(t, err)
	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m1", LocalImagePath: p}))
	paths, _ := f.markers.ReferencedPaths(nil)
	assert.Equal(t, []string{p}, paths)
	paths, res := f.markers.ReferencedPaths(func(m *models.MarkerRecord) []string {
		return []string{m.ID + ".preview"}
	})
	assert.Equal(t, []string{p, "m1.preview"}, paths)
	assert.Equal(t, StatusLoaded, res.Status)

	_, err = f.markers.Delete("m1")
	require.NoError(t, err)
	assert.False(t, f.assets.IsCached(p))
}

// TestMetrics verifies loads and saves are counted by outcome.
func TestMetrics(t *testing.T) {
	f := newFixture(t)

	f.markers.Load()
	require.NoError(t, f.markers.Upsert(models.MarkerRecord{ID: "m1"}))
	f.markers.Load()

	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)
	loads := map[string]float64{}
	saves := 0.0
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			switch fam.GetName() {
			case "arcache_document_loads_total":
				loads[labels["status"]] += metric.GetCounter().GetValue()
			case "arcache_document_saves_total":
				saves += metric.GetCounter().GetValue()
			}
		}
	}
	// Upsert loads once before saving.
	assert.Equal(t, 2.0, loads["absent"])
	assert.Equal(t, 1.0, loads["loaded"])
	assert.Equal(t, 1.0, saves)
}
