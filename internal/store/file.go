package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const artifactExt = ".json"

// FileStore keeps artifacts as <dir>/<name>/<version>.json.
type FileStore struct {
	dir string

	// mu serialises version allocation within the process.
	mu sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "./models"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the artifact to a temporary file and renames it into place, so
// readers never observe a partial artifact.
func (s *FileStore) Save(ctx context.Context, name string, artifact []byte) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if err := checkArtifact(artifact); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	modelDir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create model directory: %w", err)
	}

	versions, err := s.versions(modelDir)
	if err != nil {
		return 0, err
	}
	var version int64 = 1
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}

	tmp, err := os.CreateTemp(modelDir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(artifact); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(name, version)); err != nil {
		return 0, fmt.Errorf("failed to publish artifact: %w", err)
	}

	return version, nil
}

// Load returns the highest version stored under name.
func (s *FileStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	versions, err := s.versions(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(s.path(name, versions[len(versions)-1]))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// List returns the latest version of every artifact, sorted by name.
func (s *FileStore) List(ctx context.Context) ([]domain.ArtifactInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory: %w", err)
	}

	var out []domain.ArtifactInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || checkName(e.Name()) != nil {
			continue
		}

		versions, err := s.versions(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}

		latest := versions[len(versions)-1]
		fi, err := os.Stat(s.path(e.Name(), latest))
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ArtifactInfo{
			Name:      e.Name(),
			Version:   latest,
			Size:      int(fi.Size()),
			CreatedAt: fi.ModTime().UTC(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Ping checks that the root directory is accessible.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(name string, version int64) string {
	return filepath.Join(s.dir, name, strconv.FormatInt(version, 10)+artifactExt)
}

// versions returns the stored versions in ascending order.
func (s *FileStore) versions(modelDir string) ([]int64, error) {
	entries, err := os.ReadDir(modelDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory: %w", err)
	}

	var out []int64
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), artifactExt)
		if !ok || e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(base, 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
