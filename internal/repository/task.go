package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/types"
)

type TaskRepository struct {
	*base
}

// CreateTaskParams carries the caller-supplied fields of a new task.
type CreateTaskParams struct {
	ProjectId      string
	RoomId         string
	Title          string
	Description    string
	AssigneeId     string
	ParentTaskId   string
	Priority       types.TaskPriority
	DueDate        time.Time
	Tags           []string
	EstimatedHours float64
}

// CreateTask stages a new task locally and propagates it. The assignee,
// when set, must be a member of the project, and a parent task must
// belong to the same project.
func (r *TaskRepository) CreateTask(ctx context.Context, sess *types.Session, params CreateTaskParams) (types.Task, error) {
	if err := requireSession(sess); err != nil {
		return types.Task{}, err
	}
	if _, err := r.member(params.ProjectId, sess.UserId); err != nil {
		return types.Task{}, err
	}
	params.Title = strings.TrimSpace(params.Title)
	if params.Title == "" {
		return types.Task{}, NewValidationError("task title cannot be empty")
	}

	var assigneeName string
	if params.AssigneeId != "" {
		m, err := r.member(params.ProjectId, params.AssigneeId)
		if err != nil {
			return types.Task{}, err
		}
		assigneeName = m.Username
	}
	if params.ParentTaskId != "" {
		parent, err := r.getTask(params.ParentTaskId)
		if err != nil {
			return types.Task{}, err
		}
		if parent.ProjectId != params.ProjectId {
			return types.Task{}, NewValidationError("parent task belongs to a different project")
		}
	}
	if params.Priority == "" {
		params.Priority = types.PriorityMedium
	}

	now := time.Now().UTC()
	task := types.Task{
		Id:             uuid.NewString(),
		ProjectId:      params.ProjectId,
		RoomId:         params.RoomId,
		Title:          params.Title,
		Description:    params.Description,
		Status:         types.TaskTodo,
		Priority:       params.Priority,
		AssigneeId:     params.AssigneeId,
		AssigneeName:   assigneeName,
		ParentTaskId:   params.ParentTaskId,
		Tags:           params.Tags,
		DueDate:        params.DueDate,
		EstimatedHours: params.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.localWrite(r.local.PutTask(task)); err != nil {
		return types.Task{}, err
	}

	r.propagate(ctx, "create task", func(ctx context.Context) error {
		var canonical types.Task
		if err := r.remote.Insert(ctx, remotestore.TableTasks, task, &canonical); err != nil {
			return err
		}
		if canonical.Id == task.Id {
			if err := r.local.PutTask(canonical); err != nil {
				r.log.Warnf("reconcile task %s: %v", task.Id, err)
			}
		}
		return nil
	})

	return task, nil
}

// ImportTasks creates a batch of tasks in one pass, validating each the
// same way CreateTask does. The whole batch is staged locally and pushed
// remotely as a single batch insert.
func (r *TaskRepository) ImportTasks(ctx context.Context, sess *types.Session, projectId string, params []CreateTaskParams) ([]types.Task, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if _, err := r.member(projectId, sess.UserId); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, NewValidationError("nothing to import")
	}

	now := time.Now().UTC()
	tasks := make([]types.Task, 0, len(params))
	for i, p := range params {
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" {
			return nil, NewValidationError("task %d: title cannot be empty", i)
		}
		if p.ParentTaskId != "" {
			return nil, NewValidationError("task %d: imported tasks cannot reference a parent", i)
		}
		var assigneeName string
		if p.AssigneeId != "" {
			m, err := r.member(projectId, p.AssigneeId)
			if err != nil {
				return nil, err
			}
			assigneeName = m.Username
		}
		if p.Priority == "" {
			p.Priority = types.PriorityMedium
		}

		tasks = append(tasks, types.Task{
			Id:             uuid.NewString(),
			ProjectId:      projectId,
			RoomId:         p.RoomId,
			Title:          p.Title,
			Description:    p.Description,
			Status:         types.TaskTodo,
			Priority:       p.Priority,
			AssigneeId:     p.AssigneeId,
			AssigneeName:   assigneeName,
			Tags:           p.Tags,
			DueDate:        p.DueDate,
			EstimatedHours: p.EstimatedHours,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := r.localWrite(r.local.PutTasks(tasks)); err != nil {
		return nil, err
	}

	r.propagate(ctx, "import tasks", func(ctx context.Context) error {
		return r.remote.InsertBatch(ctx, remotestore.TableTasks, tasks)
	})

	return tasks, nil
}

func (r *TaskRepository) GetTask(ctx context.Context, taskId string) (types.Task, error) {
	return r.getTask(taskId)
}

func (r *TaskRepository) getTask(taskId string) (types.Task, error) {
	task, err := r.local.GetTask(taskId)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return types.Task{}, NewValidationError("task %s not found", taskId)
		}
		return types.Task{}, NewLocalStoreError(err)
	}
	return task, nil
}

func (r *TaskRepository) ListTasks(ctx context.Context, projectId string) ([]types.Task, error) {
	tasks, err := r.local.ListTasks(projectId)
	if err != nil {
		return nil, NewLocalStoreError(err)
	}
	return tasks, nil
}

// ListSubtasks returns the direct children of a task.
func (r *TaskRepository) ListSubtasks(ctx context.Context, taskId string) ([]types.Task, error) {
	tasks, err := r.local.ListSubtasks(taskId)
	if err != nil {
		return nil, NewLocalStoreError(err)
	}
	return tasks, nil
}

// UpdateTaskParams carries the mutable fields of a task. A nil field
// leaves the current value untouched.
type UpdateTaskParams struct {
	Title          *string
	Description    *string
	Priority       *types.TaskPriority
	ParentTaskId   *string
	DueDate        *time.Time
	Tags           *[]string
	EstimatedHours *float64
	ActualHours    *float64
}

// UpdateTask edits a task's fields. Reparenting is validated against the
// subtask hierarchy so a task can never become its own ancestor.
func (r *TaskRepository) UpdateTask(ctx context.Context, sess *types.Session, taskId string, params UpdateTaskParams) (types.Task, error) {
	if err := requireSession(sess); err != nil {
		return types.Task{}, err
	}

	unlock := r.locks.Lock(taskId)
	defer unlock()

	task, err := r.getTask(taskId)
	if err != nil {
		return types.Task{}, err
	}
	if _, err := r.member(task.ProjectId, sess.UserId); err != nil {
		return types.Task{}, err
	}

	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return types.Task{}, NewValidationError("task title cannot be empty")
		}
		task.Title = title
	}
	if params.Description != nil {
		task.Description = *params.Description
	}
	if params.Priority != nil {
		task.Priority = *params.Priority
	}
	if params.ParentTaskId != nil {
		if err := r.validateParent(task, *params.ParentTaskId); err != nil {
			return types.Task{}, err
		}
		task.ParentTaskId = *params.ParentTaskId
	}
	if params.DueDate != nil {
		task.DueDate = *params.DueDate
	}
	if params.Tags != nil {
		task.Tags = *params.Tags
	}
	if params.EstimatedHours != nil {
		task.EstimatedHours = *params.EstimatedHours
	}
	if params.ActualHours != nil {
		task.ActualHours = *params.ActualHours
	}
	task.UpdatedAt = time.Now().UTC()

	if err := r.localWrite(r.local.PutTask(task)); err != nil {
		return types.Task{}, err
	}

	r.propagate(ctx, "update task", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableTasks, taskId, map[string]any{
			"title":           task.Title,
			"description":     task.Description,
			"priority":        task.Priority,
			"parent_task_id":  task.ParentTaskId,
			"due_date":        task.DueDate,
			"tags":            task.Tags,
			"estimated_hours": task.EstimatedHours,
			"actual_hours":    task.ActualHours,
			"updated_at":      task.UpdatedAt,
		})
	})

	return task, nil
}

// validateParent rejects a parent in another project, a self-parent, and
// any parent whose ancestor chain already contains the task.
func (r *TaskRepository) validateParent(task types.Task, parentId string) error {
	if parentId == "" {
		return nil
	}
	if parentId == task.Id {
		return NewValidationError("a task cannot be its own parent")
	}
	parent, err := r.getTask(parentId)
	if err != nil {
		return err
	}
	if parent.ProjectId != task.ProjectId {
		return NewValidationError("parent task belongs to a different project")
	}

	// Walk the ancestor chain of the proposed parent. Finding the task
	// there means the reparent would close a loop. The visited set guards
	// against walking a chain that is already corrupt.
	visited := map[string]struct{}{parent.Id: {}}
	for cur := parent; cur.ParentTaskId != ""; {
		if cur.ParentTaskId == task.Id {
			return NewValidationError("reparenting task %s under %s would create a cycle", task.Id, parentId)
		}
		if _, ok := visited[cur.ParentTaskId]; ok {
			return NewValidationError("task %s has a cyclic ancestor chain", parentId)
		}
		visited[cur.ParentTaskId] = struct{}{}
		next, err := r.getTask(cur.ParentTaskId)
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// SetTaskStatus moves a task through its workflow states.
func (r *TaskRepository) SetTaskStatus(ctx context.Context, sess *types.Session, taskId string, status types.TaskStatus) (types.Task, error) {
	if err := requireSession(sess); err != nil {
		return types.Task{}, err
	}
	if !status.Valid() {
		return types.Task{}, NewValidationError("invalid task status %q", status)
	}

	unlock := r.locks.Lock(taskId)
	defer unlock()

	task, err := r.getTask(taskId)
	if err != nil {
		return types.Task{}, err
	}
	if _, err := r.member(task.ProjectId, sess.UserId); err != nil {
		return types.Task{}, err
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()

	if err := r.localWrite(r.local.PutTask(task)); err != nil {
		return types.Task{}, err
	}

	r.propagate(ctx, "set task status", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableTasks, taskId, map[string]any{
			"status":     task.Status,
			"updated_at": task.UpdatedAt,
		})
	})

	return task, nil
}

// AssignTask sets or clears the task's assignee. A non-empty assignee
// must be a member of the project.
func (r *TaskRepository) AssignTask(ctx context.Context, sess *types.Session, taskId, assigneeId string) (types.Task, error) {
	if err := requireSession(sess); err != nil {
		return types.Task{}, err
	}

	unlock := r.locks.Lock(taskId)
	defer unlock()

	task, err := r.getTask(taskId)
	if err != nil {
		return types.Task{}, err
	}
	if _, err := r.member(task.ProjectId, sess.UserId); err != nil {
		return types.Task{}, err
	}

	var assigneeName string
	if assigneeId != "" {
		m, err := r.member(task.ProjectId, assigneeId)
		if err != nil {
			return types.Task{}, err
		}
		assigneeName = m.Username
	}

	task.AssigneeId = assigneeId
	task.AssigneeName = assigneeName
	task.UpdatedAt = time.Now().UTC()

	if err := r.localWrite(r.local.PutTask(task)); err != nil {
		return types.Task{}, err
	}

	r.propagate(ctx, "assign task", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableTasks, taskId, map[string]any{
			"assignee_id":   task.AssigneeId,
			"assignee_name": task.AssigneeName,
			"updated_at":    task.UpdatedAt,
		})
	})

	return task, nil
}

// AddTaskComment appends a comment to the task. Comments are append-only.
func (r *TaskRepository) AddTaskComment(ctx context.Context, sess *types.Session, taskId, content string) (types.Task, error) {
	if err := requireSession(sess); err != nil {
		return types.Task{}, err
	}
	if strings.TrimSpace(content) == "" {
		return types.Task{}, NewValidationError("comment cannot be empty")
	}

	unlock := r.locks.Lock(taskId)
	defer unlock()

	task, err := r.getTask(taskId)
	if err != nil {
		return types.Task{}, err
	}
	if _, err := r.member(task.ProjectId, sess.UserId); err != nil {
		return types.Task{}, err
	}

	task.Comments = append(task.Comments, types.TaskComment{
		Id:        uuid.NewString(),
		AuthorId:  sess.UserId,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	task.UpdatedAt = time.Now().UTC()

	if err := r.localWrite(r.local.PutTask(task)); err != nil {
		return types.Task{}, err
	}

	r.propagate(ctx, "add task comment", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableTasks, taskId, map[string]any{
			"comments":   task.Comments,
			"updated_at": task.UpdatedAt,
		})
	})

	return task, nil
}

// DeleteTask removes a task. Tasks with subtasks cannot be deleted;
// reparent or delete the children first.
func (r *TaskRepository) DeleteTask(ctx context.Context, sess *types.Session, taskId string) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	unlock := r.locks.Lock(taskId)
	defer unlock()

	task, err := r.getTask(taskId)
	if err != nil {
		return err
	}
	if _, err := r.member(task.ProjectId, sess.UserId); err != nil {
		return err
	}

	subtasks, err := r.local.ListSubtasks(taskId)
	if err != nil {
		return NewLocalStoreError(err)
	}
	if len(subtasks) > 0 {
		return NewValidationError("task %s has %d subtasks", taskId, len(subtasks))
	}

	if err := r.localWrite(r.local.DeleteTask(taskId)); err != nil {
		return err
	}

	r.propagate(ctx, "delete task", func(ctx context.Context) error {
		return r.remote.Delete(ctx, remotestore.TableTasks, taskId)
	})

	return nil
}

// SearchTasks matches the query against task titles and tags,
// case-insensitively.
func (r *TaskRepository) SearchTasks(ctx context.Context, projectId, query string) ([]types.Task, error) {
	tasks, err := r.local.SearchTasks(projectId, query)
	if err != nil {
		return nil, NewLocalStoreError(err)
	}
	return tasks, nil
}

// TasksLive subscribes to the project's task list.
func (r *TaskRepository) TasksLive(projectId string) (<-chan []types.Task, func()) {
	return r.local.TasksLive(projectId)
}
