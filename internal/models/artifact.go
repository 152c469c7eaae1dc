// Package models provides data model definitions for the AR asset cache core.
package models

import "time"

// MediaType classifies a cached media asset.
type MediaType string

const (
	MediaModel   MediaType = "model"
	MediaVideo   MediaType = "video"
	MediaPreview MediaType = "preview"
	MediaTarget  MediaType = "target"
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	switch m {
	case MediaModel, MediaVideo, MediaPreview, MediaTarget:
		return true
	}
	return false
}

// ArtifactRecord is a piece of AR content and its cached media.
type ArtifactRecord struct {
	ID               string             `json:"id"`
	TargetID         string             `json:"target_id,omitempty"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	PreviewRemoteURL string             `json:"preview_remote_url,omitempty"`
	PreviewLocalPath string             `json:"preview_local_path,omitempty"`
	IsActive         bool               `json:"is_active"`
	LastUpdated      time.Time          `json:"last_updated"`
	Media            []MediaCacheRecord `json:"media"`
}

// FindMedia returns the index of the media entry with the given id, or -1.
func (a *ArtifactRecord) FindMedia(mediaID string) int {
	for i := range a.Media {
		if a.Media[i].MediaID == mediaID {
			return i
		}
	}
	return -1
}

// UpsertMedia replaces the media entry with the same id or appends it.
func (a *ArtifactRecord) UpsertMedia(m MediaCacheRecord) {
	if i := a.FindMedia(m.MediaID); i >= 0 {
		a.Media[i] = m
		return
	}
	a.Media = append(a.Media, m)
}

// RemoveMedia drops the media entry with the given id and returns it.
func (a *ArtifactRecord) RemoveMedia(mediaID string) (MediaCacheRecord, bool) {
	i := a.FindMedia(mediaID)
	if i < 0 {
		return MediaCacheRecord{}, false
	}
	removed := a.Media[i]
	a.Media = append(a.Media[:i], a.Media[i+1:]...)
	return removed, true
}

// LocalPaths lists every cached file the record references.
func (a *ArtifactRecord) LocalPaths() []string {
	var paths []string
	if a.PreviewLocalPath != "" {
		paths = append(paths, a.PreviewLocalPath)
	}
	for _, m := range a.Media {
		if m.LocalPath != "" {
			paths = append(paths, m.LocalPath)
		}
	}
	return paths
}

// MediaCacheRecord is one downloaded (or pending) asset of an artifact.
type MediaCacheRecord struct {
	MediaID   string                 `json:"media_id"`
	MediaType MediaType              `json:"media_type"`
	RemoteURL string                 `json:"remote_url"`
	LocalPath string                 `json:"local_path,omitempty"`
	CachedAt  time.Time              `json:"cached_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ScanStatus is the outcome of a marker scan.
type ScanStatus string

const (
	ScanOK      ScanStatus = "ok"
	ScanWarning ScanStatus = "warning"
	ScanError   ScanStatus = "error"
)

// Valid reports whether s is a known scan status.
func (s ScanStatus) Valid() bool {
	return s == ScanOK || s == ScanWarning || s == ScanError
}

// HistoryEntry records a single scan. Entries are append-only.
type HistoryEntry struct {
	ArtifactID    string     `json:"artifact_id"`
	TargetID      string     `json:"target_id,omitempty"`
	ScannedAt     time.Time  `json:"scanned_at"`
	Status        ScanStatus `json:"status"`
	StatusDetails string     `json:"status_details,omitempty"`
}
