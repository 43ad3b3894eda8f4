package uploads

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/sans-pilot/internal/domain/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// DefaultListLimit caps list-uploaded-files when the caller gives no limit.
const DefaultListLimit = 50

// Service lists and stores files in the uploads sandbox.
type Service struct {
	Resolver *Resolver
}

func NewService(resolver *Resolver) *Service {
	return &Service{Resolver: resolver}
}

// List returns files under the user's sandbox, newest first. extensions are
// matched case-insensitively against the file suffix, with or without a dot.
func (s *Service) List(userID string, extensions []string, limit int) ([]domain.File, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var wanted map[string]struct{}
	if len(extensions) > 0 {
		wanted = make(map[string]struct{}, len(extensions))
		for _, e := range extensions {
			wanted[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")] = struct{}{}
		}
	}

	root := s.Resolver.Root(userID)
	files := make([]domain.File, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if wanted != nil {
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(d.Name())), ".")
			if _, ok := wanted[ext]; !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}
		files = append(files, domain.File{
			OriginalName: domain.OriginalName(d.Name()),
			Name:         d.Name(),
			RelativePath: filepath.ToSlash(rel),
			Bytes:        info.Size(),
			CreatedTime:  info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list uploads under %s: %v: %w", root, err, sentinel.ErrIO)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedTime.Equal(files[j].CreatedTime) {
			return files[i].RelativePath < files[j].RelativePath
		}
		return files[i].CreatedTime.After(files[j].CreatedTime)
	})
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// Store writes r under the user's sandbox as "<uuid>__<original>" and returns
// the listing entry for it.
func (s *Service) Store(userID, originalName string, r io.Reader) (domain.File, error) {
	original := filepath.Base(filepath.Clean("/" + strings.TrimSpace(originalName)))
	if original == "/" || original == "." || original == "" {
		return domain.File{}, fmt.Errorf("upload filename is required: %w", sentinel.ErrInvalidRequest)
	}

	root := s.Resolver.Root(userID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return domain.File{}, fmt.Errorf("create uploads dir: %v: %w", err, sentinel.ErrIO)
	}
	stored := uuid.NewString() + domain.NameSeparator + original
	path := filepath.Join(root, stored)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.File{}, fmt.Errorf("create upload: %v: %w", err, sentinel.ErrIO)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return domain.File{}, fmt.Errorf("write upload: %v: %w", errors.Join(copyErr, closeErr), sentinel.ErrIO)
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.File{}, fmt.Errorf("stat upload: %v: %w", err, sentinel.ErrIO)
	}
	return domain.File{
		OriginalName: original,
		Name:         stored,
		RelativePath: stored,
		Bytes:        n,
		CreatedTime:  info.ModTime().UTC(),
	}, nil
}
