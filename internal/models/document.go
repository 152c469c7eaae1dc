package models

import "time"

// Never is the sentinel returned for absent or unparsable timestamps.
var Never = time.Time{}

// ParseTimestamp parses an RFC 3339 timestamp. Anything else yields Never.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return Never, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Never, false
	}
	return ts, true
}

// FormatTimestamp renders t in the persisted form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ArtifactDocument is the persisted artifacts + history document.
type ArtifactDocument struct {
	Artifacts  []ArtifactRecord `json:"artifacts"`
	History    []HistoryEntry   `json:"history"`
	LastUpdate string           `json:"last_update,omitempty"`
}

// NewArtifactDocument returns an empty document.
func NewArtifactDocument() *ArtifactDocument {
	return &ArtifactDocument{
		Artifacts: []ArtifactRecord{},
		History:   []HistoryEntry{},
	}
}

// Find returns the index of the artifact with the given id, or -1.
func (d *ArtifactDocument) Find(id string) int {
	for i := range d.Artifacts {
		if d.Artifacts[i].ID == id {
			return i
		}
	}
	return -1
}

// Upsert replaces the artifact with the same id or appends it.
func (d *ArtifactDocument) Upsert(rec ArtifactRecord) {
	if i := d.Find(rec.ID); i >= 0 {
		d.Artifacts[i] = rec
		return
	}
	d.Artifacts = append(d.Artifacts, rec)
}

// Remove drops the artifact with the given id and returns it.
func (d *ArtifactDocument) Remove(id string) (ArtifactRecord, bool) {
	i := d.Find(id)
	if i < 0 {
		return ArtifactRecord{}, false
	}
	removed := d.Artifacts[i]
	d.Artifacts = append(d.Artifacts[:i], d.Artifacts[i+1:]...)
	return removed, true
}

// LastUpdated parses LastUpdate defensively.
func (d *ArtifactDocument) LastUpdated() time.Time {
	ts, _ := ParseTimestamp(d.LastUpdate)
	return ts
}

// Touch stamps the document with now.
func (d *ArtifactDocument) Touch(now time.Time) {
	d.LastUpdate = FormatTimestamp(now)
}

// Normalize replaces nil collections with empty ones.
func (d *ArtifactDocument) Normalize() {
	if d.Artifacts == nil {
		d.Artifacts = []ArtifactRecord{}
	}
	if d.History == nil {
		d.History = []HistoryEntry{}
	}
}

// MarkerDocument is the persisted markers document.
type MarkerDocument struct {
	Markers    []MarkerRecord `json:"markers"`
	LastUpdate string         `json:"last_update,omitempty"`
}

// NewMarkerDocument returns an empty document.
func NewMarkerDocument() *MarkerDocument {
	return &MarkerDocument{Markers: []MarkerRecord{}}
}

// Find returns the index of the marker with the given id, or -1.
func (d *MarkerDocument) Find(id string) int {
	for i := range d.Markers {
		if d.Markers[i].ID == id {
			return i
		}
	}
	return -1
}

// Upsert replaces the marker with the same id or appends it.
func (d *MarkerDocument) Upsert(rec MarkerRecord) {
	rec.Normalize()
	if i := d.Find(rec.ID); i >= 0 {
		d.Markers[i] = rec
		return
	}
	d.Markers = append(d.Markers, rec)
}

// Remove drops the marker with the given id and returns it.
func (d *MarkerDocument) Remove(id string) (MarkerRecord, bool) {
	i := d.Find(id)
	if i < 0 {
		return MarkerRecord{}, false
	}
	removed := d.Markers[i]
	d.Markers = append(d.Markers[:i], d.Markers[i+1:]...)
	return removed, true
}

// LastUpdated parses LastUpdate defensively.
func (d *MarkerDocument) LastUpdated() time.Time {
	ts, _ := ParseTimestamp(d.LastUpdate)
	return ts
}

// Touch stamps the document with now.
func (d *MarkerDocument) Touch(now time.Time) {
	d.LastUpdate = FormatTimestamp(now)
}

// Normalize replaces a nil list and fixes every marker's size.
func (d *MarkerDocument) Normalize() {
	if d.Markers == nil {
		d.Markers = []MarkerRecord{}
	}
	for i := range d.Markers {
		d.Markers[i].Normalize()
	}
}
