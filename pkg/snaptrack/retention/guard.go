package retention

import (
	"path/filepath"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/fingerprint"
)

// PublishedGuard protects files under the tracked root whose current
// content has not reached the remote yet. Files outside the root are never
// protected.
type PublishedGuard struct {
	root     string
	manifest fingerprint.Manifest
}

// NewPublishedGuard builds a guard from the last saved manifest.
func NewPublishedGuard(root string, manifest fingerprint.Manifest) (*PublishedGuard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &PublishedGuard{root: abs, manifest: manifest}, nil
}

// Protected reports whether path is under the root and its hash differs
// from the manifest record. Unreadable files are protected.
func (g *PublishedGuard) Protected(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return false
	}

	rec, ok := g.manifest[filepath.ToSlash(rel)]
	if !ok {
		return true
	}
	hash, err := fingerprint.HashFile(abs)
	if err != nil {
		return true
	}
	return hash != rec.Hash
}
