package filerepo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

// HTTPService is a Service backed by the repository service REST API.
type HTTPService struct {
	client  *resty.Client
	timeout time.Duration
}

var _ Service = (*HTTPService)(nil)

type ownerResponse struct {
	Owner string `json:"owner"`
}

type permissionResponse struct {
	Permission string `json:"permission"`
}

type uploadResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewHTTPService creates a client for the service at baseURL. Lookups are
// bounded by timeout; uploads are bounded only by the caller's context.
func NewHTTPService(baseURL, token string, timeout time.Duration) *HTTPService {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPService{client: client, timeout: timeout}
}

func (s *HTTPService) lookup(ctx context.Context) (*resty.Request, context.CancelFunc) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return s.client.R().SetContext(ctx), cancel
	}
	return s.client.R().SetContext(ctx), func() {}
}

func (s *HTTPService) GetRepo(ctx context.Context, repoID string) (*Repo, error) {
	req, cancel := s.lookup(ctx)
	defer cancel()

	var repo Repo
	resp, err := req.
		SetPathParam("id", repoID).
		SetResult(&repo).
		Get("/repos/{id}")
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", repoID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get repo %s: unexpected status %s", repoID, resp.Status())
	}
	if repo.ID == "" {
		repo.ID = repoID
	}
	return &repo, nil
}

func (s *HTTPService) GetOwner(ctx context.Context, repoID string) (string, error) {
	req, cancel := s.lookup(ctx)
	defer cancel()

	var out ownerResponse
	resp, err := req.
		SetPathParam("id", repoID).
		SetResult(&out).
		Get("/repos/{id}/owner")
	if err != nil {
		return "", fmt.Errorf("get repo owner %s: %w", repoID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("get repo owner %s: %w", repoID, errpkg.ErrRepoNotFound)
	}
	if resp.IsError() {
		return "", fmt.Errorf("get repo owner %s: unexpected status %s", repoID, resp.Status())
	}
	return out.Owner, nil
}

func (s *HTTPService) CheckPermission(ctx context.Context, repoID, path, user string) (string, error) {
	req, cancel := s.lookup(ctx)
	defer cancel()

	var out permissionResponse
	resp, err := req.
		SetPathParam("id", repoID).
		SetQueryParams(map[string]string{"path": path, "user": user}).
		SetResult(&out).
		Get("/repos/{id}/permission")
	if err != nil {
		return "", fmt.Errorf("check permission on %s: %w", repoID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", nil
	}
	if resp.IsError() {
		return "", fmt.Errorf("check permission on %s: unexpected status %s", repoID, resp.Status())
	}

	switch out.Permission {
	case PermissionReadWrite, PermissionRead:
		return out.Permission, nil
	default:
		return "", nil
	}
}

func (s *HTTPService) Upload(ctx context.Context, repoID, dir, name string, r io.Reader) (int64, error) {
	var out uploadResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", repoID).
		SetFormData(map[string]string{"parent_dir": dir}).
		SetFileReader("file", name, r).
		SetResult(&out).
		Post("/repos/{id}/upload")
	if err != nil {
		return 0, fmt.Errorf("upload to %s: %w", repoID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, fmt.Errorf("upload to %s: %w", repoID, errpkg.ErrRepoNotFound)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("upload to %s: unexpected status %s", repoID, resp.Status())
	}
	return out.Size, nil
}
