// Package filerepo talks to the file-sync repository service that owns the
// libraries downloads are written into.
package filerepo

import (
	"context"
	"io"
)

// Permission levels reported by CheckPermission.
const (
	PermissionReadWrite = "rw"
	PermissionRead      = "r"
)

// Repo is the metadata of a repository.
type Repo struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Owner string `json:"owner" yaml:"owner"`
}

// Service is the subset of the repository service used by the downloader.
type Service interface {
	// GetRepo returns nil and no error when the repository does not exist.
	GetRepo(ctx context.Context, repoID string) (*Repo, error)
	GetOwner(ctx context.Context, repoID string) (string, error)
	// CheckPermission returns PermissionReadWrite, PermissionRead or "".
	CheckPermission(ctx context.Context, repoID, path, user string) (string, error)
	// Upload stores r as name inside dir and returns the number of bytes written.
	Upload(ctx context.Context, repoID, dir, name string, r io.Reader) (int64, error)
}
