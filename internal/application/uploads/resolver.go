package uploads

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// Resolver maps caller file references into the per-user uploads sandbox.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver rooted at the base uploads directory.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the sandbox root for userID, or the base root when userID is empty.
func (r *Resolver) Root(userID string) string {
	if userID == "" {
		return r.root
	}
	return filepath.Join(r.root, userID)
}

// Resolve turns reference into an absolute path. Absolute references are
// returned unchanged. Otherwise the reference is tried relative to the user
// root, then searched for by base name anywhere under it.
func (r *Resolver) Resolve(reference, userID string) (string, error) {
	if filepath.IsAbs(reference) {
		return reference, nil
	}
	root := r.Root(userID)

	direct := filepath.Join(root, reference)
	if info, err := os.Stat(direct); err == nil && info.Mode().IsRegular() {
		return absolute(direct)
	}

	name := filepath.Base(reference)
	matches, err := findByName(root, name)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("uploaded file '%s' not found under %s: %w", reference, root, sentinel.ErrNotFound)
	case 1:
		return absolute(matches[0])
	default:
		return "", fmt.Errorf(
			"ambiguous filename '%s' (found %d matches); use the full relative path returned by list-uploaded-files: %w",
			name, len(matches), sentinel.ErrAmbiguous)
	}
}

func findByName(root, name string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			// unreadable subtrees are skipped, not fatal
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && d.Name() == name {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %v: %w", root, err, sentinel.ErrIO)
	}
	return matches, nil
}

func absolute(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %v: %w", path, err, sentinel.ErrIO)
	}
	return abs, nil
}
