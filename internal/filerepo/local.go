package filerepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

// RepoSpec is one entry of the local manifest.
type RepoSpec struct {
	Repo    `yaml:",inline"`
	Writers []string `yaml:"writers,omitempty"`
	Readers []string `yaml:"readers,omitempty"`
}

type manifest struct {
	Repos []RepoSpec `yaml:"repos"`
}

// LocalService keeps repositories as directories under root, with their
// metadata and access lists in a YAML manifest.
type LocalService struct {
	mu       sync.RWMutex
	root     string
	manifest string
	repos    map[string]*RepoSpec
}

var _ Service = (*LocalService)(nil)

// NewLocalService loads the manifest (a missing file means no repositories)
// and makes sure root exists.
func NewLocalService(root, manifestPath string) (*LocalService, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create repository root: %w", err)
	}

	s := &LocalService{
		root:     filepath.Clean(root),
		manifest: filepath.Clean(manifestPath),
		repos:    make(map[string]*RepoSpec),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	slog.Info("Local repository service initialized", "root", s.root, "repos_count", len(s.repos))
	return s, nil
}

func (s *LocalService) load() error {
	data, err := os.ReadFile(s.manifest)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read repository manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse repository manifest: %w", err)
	}
	for i := range m.Repos {
		spec := m.Repos[i]
		if spec.ID == "" {
			return fmt.Errorf("repository manifest: entry %d has no id", i)
		}
		s.repos[spec.ID] = &spec
	}
	return nil
}

// save must be called with s.mu held.
func (s *LocalService) save() error {
	m := manifest{Repos: make([]RepoSpec, 0, len(s.repos))}
	for _, spec := range s.repos {
		m.Repos = append(m.Repos, *spec)
	}
	slices.SortFunc(m.Repos, func(a, b RepoSpec) int { return strings.Compare(a.ID, b.ID) })

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal repository manifest: %w", err)
	}

	tempFile := s.manifest + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("write repository manifest: %w", err)
	}
	if err := os.Rename(tempFile, s.manifest); err != nil {
		return fmt.Errorf("rename repository manifest: %w", err)
	}
	return nil
}

// AddRepo registers a repository and creates its directory.
func (s *LocalService) AddRepo(spec RepoSpec) error {
	if spec.ID == "" || strings.ContainsAny(spec.ID, `/\`) || spec.ID == "." || spec.ID == ".." {
		return errpkg.InvalidArgument("repo_id invalid.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.root, spec.ID), 0o755); err != nil {
		return fmt.Errorf("create repository directory: %w", err)
	}
	s.repos[spec.ID] = &spec
	return s.save()
}

// DeleteRepo forgets a repository and removes its files.
func (s *LocalService) DeleteRepo(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repos[repoID]; !ok {
		return errpkg.ErrRepoNotFound
	}
	delete(s.repos, repoID)
	if err := s.save(); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, repoID))
}

func (s *LocalService) spec(repoID string) (*RepoSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.repos[repoID]
	return spec, ok
}

func (s *LocalService) GetRepo(ctx context.Context, repoID string) (*Repo, error) {
	spec, ok := s.spec(repoID)
	if !ok {
		return nil, nil
	}
	repo := spec.Repo
	return &repo, nil
}

func (s *LocalService) GetOwner(ctx context.Context, repoID string) (string, error) {
	spec, ok := s.spec(repoID)
	if !ok {
		return "", fmt.Errorf("get repo owner %s: %w", repoID, errpkg.ErrRepoNotFound)
	}
	return spec.Owner, nil
}

func (s *LocalService) CheckPermission(ctx context.Context, repoID, dir, user string) (string, error) {
	spec, ok := s.spec(repoID)
	if !ok || user == "" {
		return "", nil
	}
	if _, err := s.resolveDir(repoID, dir); err != nil {
		return "", nil
	}

	switch {
	case spec.Owner == user, slices.Contains(spec.Writers, user):
		return PermissionReadWrite, nil
	case slices.Contains(spec.Readers, user):
		return PermissionRead, nil
	default:
		return "", nil
	}
}

// Upload writes r into a temporary file next to the target and renames it
// into place. An existing file with the same name is kept and the new one
// gets a " (n)" suffix.
func (s *LocalService) Upload(ctx context.Context, repoID, dir, name string, r io.Reader) (int64, error) {
	if _, ok := s.spec(repoID); !ok {
		return 0, fmt.Errorf("upload to %s: %w", repoID, errpkg.ErrRepoNotFound)
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return 0, errpkg.InvalidArgument("invalid file name %q", name)
	}

	target, err := s.resolveDir(repoID, dir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(target, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := copyWithContext(ctx, tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("write file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dst := freeName(target, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return written, fmt.Errorf("rename file: %w", err)
	}

	slog.Debug("File stored", "repo_id", repoID, "path", dst, "bytes", written)
	return written, nil
}

// resolveDir maps a repository path onto the filesystem, refusing anything
// that would land outside the repository directory.
func (s *LocalService) resolveDir(repoID, dir string) (string, error) {
	if strings.Contains(dir, `\`) {
		return "", errpkg.InvalidArgument("path invalid.")
	}
	for _, part := range strings.Split(dir, "/") {
		if part == ".." {
			return "", errpkg.InvalidArgument("path invalid.")
		}
	}

	base := filepath.Join(s.root, repoID)
	target := filepath.Join(base, filepath.FromSlash(path.Clean("/"+dir)))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errpkg.InvalidArgument("path invalid.")
	}
	return target, nil
}

func freeName(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, err := dst.Write(buf[0:nr])
				if nw > 0 {
					total += int64(nw)
				}
				if err != nil {
					return total, err
				}
				if nr != nw {
					return total, io.ErrShortWrite
				}
			}
			if err != nil {
				if err == io.EOF {
					return total, nil
				}
				return total, err
			}
		}
	}
}
