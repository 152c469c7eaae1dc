package models

import "time"

// DefaultMarkerSizeCm is the physical marker width assumed when none is stored.
const DefaultMarkerSizeCm = 10

// MarkerRecord is a registered AR tracking image.
type MarkerRecord struct {
	ID             string    `json:"id"`
	RemoteURL      string    `json:"remote_url,omitempty"`
	LocalImagePath string    `json:"local_image_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	SizeCm         int       `json:"size_cm"`
	ArtifactID     string    `json:"artifact_id,omitempty"`
	// ArtifactName is a denormalized copy used for offline listing.
	ArtifactName string `json:"artifact_name,omitempty"`
}

// Normalize enforces SizeCm > 0.
func (m *MarkerRecord) Normalize() {
	if m.SizeCm <= 0 {
		m.SizeCm = DefaultMarkerSizeCm
	}
}
