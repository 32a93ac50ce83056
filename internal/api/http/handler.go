package http

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"log/slog"

	"github.com/veranemoloko/offline-downloader/internal/auth"
	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

const featureDisabledMsg = "Offline download not supported."

// TaskServiceI defines the user-facing task operations.
type TaskServiceI interface {
	Submit(ctx context.Context, owner, repoID, path, url string) (string, error)
	ListUserTasks(ctx context.Context, owner string, offset, limit int) ([]domain.UserTaskView, error)
}

// AdminServiceI defines the administrator task listing.
type AdminServiceI interface {
	ListTasks(ctx context.Context, offset, limit int) (*domain.AdminTaskPage, error)
}

// TaskHandler handles the user task endpoints.
type TaskHandler struct {
	taskService TaskServiceI
	enabled     bool
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler. When enabled is false every
// request is answered with 404.
func NewTaskHandler(taskService TaskServiceI, enabled bool, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		enabled:     enabled,
		logger:      logger,
	}
}

// AddTask handles PUT /api/v2.1/offline-download-tasks. The body may be
// JSON or form encoded.
func (h *TaskHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		h.fail(w, r, "offline download disabled", errpkg.ErrFeatureDisabled)
		return
	}
	ctx := r.Context()
	id, _ := auth.FromContext(ctx)

	req, err := decodeCreateRequest(r)
	if err != nil {
		h.logger.Warn("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	taskID, err := h.taskService.Submit(ctx, id.Username, req.RepoID, req.Path, req.URL)
	if err != nil {
		h.fail(w, r, "failed to add task", err)
		return
	}

	h.logger.Debug("task accepted", "task_id", taskID, "owner", id.Username)
	writeJSON(w, http.StatusOK, domain.SuccessResponse{Success: true})
}

// ListTasks handles GET /api/v2.1/offline-download-tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		h.fail(w, r, "offline download disabled", errpkg.ErrFeatureDisabled)
		return
	}
	ctx := r.Context()
	id, _ := auth.FromContext(ctx)

	offset, limit, err := parseUserPage(r.URL.Query())
	if err != nil {
		h.fail(w, r, "invalid pagination", err)
		return
	}

	views, err := h.taskService.ListUserTasks(ctx, id.Username, offset, limit)
	if err != nil {
		h.fail(w, r, "failed to list tasks", err)
		return
	}
	if views == nil {
		views = []domain.UserTaskView{}
	}

	writeJSON(w, http.StatusOK, domain.UserTaskList{Data: views})
}

func (h *TaskHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	respondError(w, r, h.logger, msg, err)
}

// AdminHandler handles the administrator task listing.
type AdminHandler struct {
	adminService AdminServiceI
	enabled      bool
	maxPerPage   int
	logger       *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. maxPerPage caps per_page; 0
// leaves it uncapped.
func NewAdminHandler(adminService AdminServiceI, enabled bool, maxPerPage int, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		enabled:      enabled,
		maxPerPage:   maxPerPage,
		logger:       logger,
	}
}

// ListTasks handles GET /api/v2.1/admin/offline-download-tasks.
func (h *AdminHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		// Administrators get 403 rather than 404 for the disabled feature.
		respondError(w, r, h.logger, "offline download disabled",
			fmt.Errorf("%w: %w", errpkg.ErrPermissionDenied, errpkg.ErrFeatureDisabled))
		return
	}

	offset, limit, err := parseAdminPage(r.URL.Query(), h.maxPerPage)
	if err != nil {
		respondError(w, r, h.logger, "invalid pagination", err)
		return
	}

	page, err := h.adminService.ListTasks(r.Context(), offset, limit)
	if err != nil {
		respondError(w, r, h.logger, "failed to list tasks", err)
		return
	}
	if page.TaskList == nil {
		page.TaskList = []domain.AdminTaskView{}
	}

	writeJSON(w, http.StatusOK, page)
}

func decodeCreateRequest(r *http.Request) (*domain.CreateTaskRequest, error) {
	var req domain.CreateTaskRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errpkg.InvalidArgument("invalid JSON body: %v", err)
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}
		fillFromForm(&req, r)
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		fillFromForm(&req, r)
	}
	return &req, nil
}

func fillFromForm(req *domain.CreateTaskRequest, r *http.Request) {
	req.RepoID = r.PostFormValue("repo_id")
	req.Path = r.PostFormValue("path")
	req.URL = r.PostFormValue("url")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
