package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syncdesk/syncdesk/internal/types"
)

const taskColumns = "id, project_id, room_id, title, description, status, priority, assignee_id, " +
	"assignee_name, due_date, tags, estimated_hours, actual_hours, comments, parent_task_id, " +
	"created_at, updated_at"

func scanTask(row interface{ Scan(...any) error }) (types.Task, error) {
	var t types.Task
	var dueDate, tags, comments, createdAt, updatedAt string

	err := row.Scan(
		&t.Id, &t.ProjectId, &t.RoomId, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AssigneeId, &t.AssigneeName, &dueDate, &tags, &t.EstimatedHours, &t.ActualHours,
		&comments, &t.ParentTaskId, &createdAt, &updatedAt,
	)
	if err != nil {
		return types.Task{}, err
	}

	t.DueDate = parseTime(dueDate)
	fromJSON(tags, &t.Tags)
	fromJSON(comments, &t.Comments)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func (s *Store) GetTask(id string) (types.Task, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ? LIMIT 1", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *Store) ListTasks(projectId string) ([]types.Task, error) {
	rows, err := s.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE project_id = ? ORDER BY created_at DESC, id DESC",
		projectId,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListSubtasks returns the direct children of a task.
func (s *Store) ListSubtasks(parentId string) ([]types.Task, error) {
	rows, err := s.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE parent_task_id = ? ORDER BY created_at DESC, id DESC",
		parentId,
	)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// SearchTasks matches the query case-insensitively against task titles and
// tags within the project.
func (s *Store) SearchTasks(projectId, query string) ([]types.Task, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE project_id = ? "+
			"AND (LOWER(title) LIKE ? OR LOWER(tags) LIKE ?) ORDER BY created_at DESC, id DESC",
		projectId, pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]types.Task, error) {
	tasks := make([]types.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) PutTask(t types.Task) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.Id, t.ProjectId, t.RoomId, t.Title, t.Description, t.Status, t.Priority,
		t.AssigneeId, t.AssigneeName, fmtTime(t.DueDate), toJSON(t.Tags),
		t.EstimatedHours, t.ActualHours, toJSON(t.Comments), t.ParentTaskId,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}

	s.notify(topicTasks + t.ProjectId)
	return nil
}

func (s *Store) PutTasks(tasks []types.Task) error {
	for _, t := range tasks {
		if err := s.PutTask(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteTask(id string) error {
	task, err := s.GetTask(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if _, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	s.notify(topicTasks + task.ProjectId)
	return nil
}
