// Package uuid generates the identifiers of markers and cached media.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) identifier in canonical lowercase form.
func New() string {
	return uuid.New().String()
}

// OrNew returns id unless it is blank, in which case a new identifier is
// generated. Caller-supplied ids are kept as is; they need not be UUIDs.
func OrNew(id string) string {
	if strings.TrimSpace(id) == "" {
		return New()
	}
	return id
}
