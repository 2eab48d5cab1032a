// Package object provides a filesystem-backed artifact store. Artifact bytes
// live outside the memory tiers; only file:// URLs flow through turns.
package object

import (
	"context"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// Store writes artifacts under root/<userID>/<chatID>/<key><ext>.
type Store struct {
	root string
}

// New creates the store, making root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("object store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create object store root")
	}
	return &Store{root: root}, nil
}

// PutArtifact stores the artifact bytes and returns a file:// URL.
func (s *Store) PutArtifact(ctx context.Context, userID, chatID string, data []byte, contentType string) (string, error) {
	dir := filepath.Join(s.root, sanitize(userID), sanitize(chatID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create artifact dir")
	}

	name := shortuuid.New() + extensionFor(contentType)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write artifact")
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), nil
}

// Delete removes an artifact by its URL. Unknown URLs are rejected; a
// missing file is not an error.
func (s *Store) Delete(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return errors.Errorf("not an artifact url: %s", rawURL)
	}
	path := filepath.FromSlash(u.Path)

	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return errors.Errorf("artifact url outside store root: %s", rawURL)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete artifact")
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func extensionFor(contentType string) string {
	if contentType == "" {
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
