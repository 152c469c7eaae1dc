// Package cache resolves and stores the binary assets of artifacts and markers.
//
// Paths are a pure function of (owner, asset, remote URL extension), so a
// re-download lands on the same file and a cache hit needs no index.
package cache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kimhsiao/arcache/internal/atomicfile"
	"github.com/kimhsiao/arcache/internal/config"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

// Dir selects one of the two managed directories.
type Dir int

const (
	// DirMedia holds models, videos and previews.
	DirMedia Dir = iota
	// DirMarkers holds marker images.
	DirMarkers
)

// Asset ids and default extensions used by the typed resolvers.
const (
	MarkerImageAsset  = "image"
	PreviewAsset      = "preview"
	DefaultImageExt   = ".jpg"
	unknownIdentifier = "unknown"
	minExtLen         = 2
	maxExtLen         = 8
)

// AssetCache owns the media and marker directories.
type AssetCache struct {
	mediaDir  string
	markerDir string
	metrics   *telemetry.Metrics
	opts      atomicfile.Options
}

// New creates an AssetCache over the two directories. Nothing is created on disk.
func New(mediaDir, markerDir string, metrics *telemetry.Metrics) *AssetCache {
	return &AssetCache{
		mediaDir:  filepath.Clean(mediaDir),
		markerDir: filepath.Clean(markerDir),
		metrics:   metrics,
	}
}

// NewFromConfig creates an AssetCache from the storage configuration.
func NewFromConfig(cfg *config.Config, metrics *telemetry.Metrics) *AssetCache {
	c := New(cfg.MediaPath(), cfg.MarkerPath(), metrics)
	c.opts = atomicfile.Options{
		RenameAttempts: cfg.Store.RenameAttempts,
		RenameDelay:    cfg.Store.RenameDelay,
	}
	return c
}

// MediaDir returns the media directory.
func (c *AssetCache) MediaDir() string { return c.mediaDir }

// MarkerDir returns the marker image directory.
func (c *AssetCache) MarkerDir() string { return c.markerDir }

func (c *AssetCache) dirPath(d Dir) string {
	if d == DirMarkers {
		return c.markerDir
	}
	return c.mediaDir
}

// ResolvePath returns the deterministic cache path of an asset.
func (c *AssetCache) ResolvePath(dir Dir, ownerID, assetID, remoteURL, defaultExt string) string {
	name := Sanitize(ownerID) + "_" + Sanitize(assetID) + ExtensionFromURL(remoteURL, defaultExt)
	return filepath.Join(c.dirPath(dir), name)
}

// ResolveMediaPath returns the path of an artifact media file.
func (c *AssetCache) ResolveMediaPath(artifactID, mediaID, remoteURL, defaultExt string) string {
	return c.ResolvePath(DirMedia, artifactID, mediaID, remoteURL, defaultExt)
}

// ResolveMarkerImagePath returns the path of a marker image.
func (c *AssetCache) ResolveMarkerImagePath(markerID, remoteURL string) string {
	return c.ResolvePath(DirMarkers, markerID, MarkerImageAsset, remoteURL, DefaultImageExt)
}

// ResolvePreviewPath returns the path of a preview image.
func (c *AssetCache) ResolvePreviewPath(ownerID, remoteURL string) string {
	return c.ResolvePath(DirMedia, ownerID, PreviewAsset, remoteURL, DefaultImageExt)
}

// Sanitize maps every rune that is not an ASCII letter or digit to '_'.
// Identifiers without any letter or digit become "unknown".
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	alnum := false
	for _, r := range id {
		if isASCIIAlnum(r) {
			b.WriteRune(r)
			alnum = true
			continue
		}
		b.WriteByte('_')
	}
	if !alnum {
		return unknownIdentifier
	}
	return b.String()
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ExtensionFromURL returns the extension of the URL path, dot included.
// Query and fragment are ignored. An extension is used only when it is 2 to 8
// characters long with the dot and alphanumeric after it; otherwise defaultExt
// (dot-prefixed if needed) is returned.
func ExtensionFromURL(remoteURL, defaultExt string) string {
	if ext := path.Ext(urlPath(remoteURL)); validExt(ext) {
		return ext
	}
	if defaultExt == "" || strings.HasPrefix(defaultExt, ".") {
		return defaultExt
	}
	return "." + defaultExt
}

func urlPath(remoteURL string) string {
	if u, err := url.Parse(remoteURL); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(remoteURL, "?#"); i >= 0 {
		return remoteURL[:i]
	}
	return remoteURL
}

// validExt accepts a dot followed by 1 to 7 ASCII alphanumerics. A lone dot
// counts as no extension.
func validExt(ext string) bool {
	if len(ext) < minExtLen || len(ext) > maxExtLen {
		return false
	}
	for _, r := range ext[1:] {
		if !isASCIIAlnum(r) {
			return false
		}
	}
	return true
}

// EnsureDirectories creates both managed directories. Safe to call repeatedly
// and from concurrent goroutines.
func (c *AssetCache) EnsureDirectories() error {
	for _, dir := range []string{c.mediaDir, c.markerDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.ErrorWithCode("Failed to create cache directory", string(apperrors.ErrIOFailure), err,
				map[string]interface{}{"dir": dir})
			return apperrors.Wrap(apperrors.ErrIOFailure, "failed to create cache directory", err)
		}
	}
	return nil
}

// Contains reports whether p lies inside one of the managed directories.
func (c *AssetCache) Contains(p string) bool {
	if p == "" {
		return false
	}
	clean := filepath.Clean(p)
	for _, dir := range []string{c.mediaDir, c.markerDir} {
		rel, err := filepath.Rel(dir, clean)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

// Store writes r to p atomically. p must lie inside a managed directory and
// the payload must not be empty.
func (c *AssetCache) Store(p string, r io.Reader) (int64, error) {
	if !c.Contains(p) {
		return 0, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("path %q is outside the cache directories", p))
	}

	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, apperrors.New(apperrors.ErrInvalid, "refusing to cache an empty payload")
		}
		c.metrics.ObserveCacheOp("store", err)
		return 0, apperrors.Wrap(apperrors.ErrIOFailure, "failed to read payload", err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		c.metrics.ObserveCacheOp("store", err)
		return 0, apperrors.Wrap(apperrors.ErrIOFailure, "failed to create cache directory", err)
	}

	n, err := atomicfile.Write(p, br, c.opts)
	c.metrics.ObserveCacheOp("store", err)
	if err != nil {
		logging.ErrorWithCode("Failed to write cached asset", string(apperrors.ErrIOFailure), err,
			map[string]interface{}{"path": p})
		return 0, apperrors.Wrap(apperrors.ErrIOFailure, "failed to write cached asset", err)
	}

	logging.Debug("Cached asset stored",
		map[string]interface{}{"path": p, "bytes": n})
	return n, nil
}

// StoreBytes is Store for an in-memory payload.
func (c *AssetCache) StoreBytes(p string, data []byte) (int64, error) {
	return c.Store(p, bytes.NewReader(data))
}

// IsCached reports a cache hit: p is a non-empty regular file.
func (c *AssetCache) IsCached(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// DeleteIfExists removes p and reports whether a file was deleted.
// A missing file is not an error; other failures are logged.
func (c *AssetCache) DeleteIfExists(p string) bool {
	if p == "" {
		return false
	}
	err := os.Remove(p)
	switch {
	case err == nil:
		c.metrics.ObserveCacheOp("delete", nil)
		return true
	case errors.Is(err, os.ErrNotExist):
		return false
	default:
		c.metrics.ObserveCacheOp("delete", err)
		logging.Warn("Failed to delete cached file",
			map[string]interface{}{"path": p, "error": err.Error()})
		return false
	}
}

// ClearAll removes both managed directories and their content.
func (c *AssetCache) ClearAll() error {
	var errs []error
	for _, dir := range []string{c.mediaDir, c.markerDir} {
		if err := os.RemoveAll(dir); err != nil {
			logging.ErrorWithCode("Failed to clear cache directory", string(apperrors.ErrIOFailure), err,
				map[string]interface{}{"dir": dir})
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	c.metrics.ObserveCacheOp("clear", err)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrIOFailure, "failed to clear cache", err)
	}
	logging.Info("Asset cache cleared",
		map[string]interface{}{"media_dir": c.mediaDir, "marker_dir": c.markerDir})
	return nil
}

// DirStats describes one managed directory.
type DirStats struct {
	Files int
	Bytes int64
}

// Stats describes the cache on disk.
type Stats struct {
	Media   DirStats
	Markers DirStats
}

// TotalBytes returns the bytes used by both directories.
func (s *Stats) TotalBytes() int64 {
	return s.Media.Bytes + s.Markers.Bytes
}

// Stats counts files and bytes per directory. Missing directories count as empty.
func (c *AssetCache) Stats() (*Stats, error) {
	media, err := dirStats(c.mediaDir)
	if err != nil {
		return nil, err
	}
	markers, err := dirStats(c.markerDir)
	if err != nil {
		return nil, err
	}
	return &Stats{Media: media, Markers: markers}, nil
}

func dirStats(dir string) (DirStats, error) {
	var s DirStats
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, apperrors.Wrap(apperrors.ErrIOFailure, "failed to read cache directory", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		s.Files++
		s.Bytes += info.Size()
	}
	return s, nil
}

// Prune removes files in the managed directories that are not in keep,
// such as leftovers of interrupted downloads. Keys of keep are file paths.
// Temp files of writes in progress are left alone.
func (c *AssetCache) Prune(keep map[string]bool) (removed int, freed int64, err error) {
	kept := make(map[string]bool, len(keep))
	for p := range keep {
		kept[filepath.Clean(p)] = true
	}

	for _, dir := range []string{c.mediaDir, c.markerDir} {
		entries, readErr := os.ReadDir(dir)
		if errors.Is(readErr, os.ErrNotExist) {
			continue
		}
		if readErr != nil {
			return removed, freed, apperrors.Wrap(apperrors.ErrIOFailure, "failed to read cache directory", readErr)
		}

		for _, e := range entries {
			if !e.Type().IsRegular() || atomicfile.IsTemp(e.Name()) {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if kept[p] {
				continue
			}
			var size int64
			if info, err := e.Info(); err == nil {
				size = info.Size()
			}
			if c.DeleteIfExists(p) {
				removed++
				freed += size
			}
		}
	}

	c.metrics.ObserveCacheOp("prune", nil)
	if removed > 0 {
		logging.Info("Pruned unreferenced cache files",
			map[string]interface{}{"removed": removed, "freed": humanize.IBytes(uint64(freed))})
	}
	return removed, freed, nil
}
