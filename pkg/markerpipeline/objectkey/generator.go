// Package objectkey derives canonical storage keys for submission assets.
package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces storage keys for submission assets.
type Generator interface {
	Key(ownerID, submissionID uuid.UUID, assetType, ext string) string
}

// OwnerScoped namespaces every asset under its owner and submission:
// {owner}/{submission}/{assetType}.{ext}. The key denotes a location
// only; access capabilities are derived separately.
type OwnerScoped struct{}

// Key builds the canonical key. The extension is lowercased and any
// leading dot is stripped; an empty extension defaults to "bin".
func (OwnerScoped) Key(ownerID, submissionID uuid.UUID, assetType, ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%s.%s", ownerID, submissionID, assetType, ext)
}
