package domain

// CreateTaskRequest represents the body of a task submission.
type CreateTaskRequest struct {
	RepoID string `json:"repo_id" validate:"required"`
	Path   string `json:"path" validate:"required"`
	URL    string `json:"url" validate:"required,download_url"`
}

// UserTaskView is what a user sees of their own tasks.
type UserTaskView struct {
	URL    string     `json:"url"`
	Status TaskStatus `json:"status"`
}

// UserTaskList is the response body of the user task listing.
type UserTaskList struct {
	Data []UserTaskView `json:"data"`
}

// AdminTaskView is a task joined with its repository metadata.
type AdminTaskView struct {
	RepoName  string     `json:"repo_name"`
	RepoOwner string     `json:"repo_owner"`
	TaskOwner string     `json:"task_owner"`
	FilePath  string     `json:"file_path"`
	URL       string     `json:"url"`
	Size      int64      `json:"size"`
	Status    TaskStatus `json:"status"`
}

// AdminTaskPage is one page of the administrator listing.
type AdminTaskPage struct {
	TaskList    []AdminTaskView `json:"task_list"`
	HasNextPage bool            `json:"has_next_page"`
}

// SuccessResponse acknowledges an accepted submission.
type SuccessResponse struct {
	Success bool `json:"success"`
}
