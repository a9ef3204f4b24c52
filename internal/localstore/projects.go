package localstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/syncdesk/syncdesk/internal/types"
)

const projectColumns = "id, name, owner_id, status, created_at, updated_at"

func scanProject(row interface{ Scan(...any) error }) (types.Project, error) {
	var p types.Project
	var createdAt, updatedAt string

	err := row.Scan(&p.Id, &p.Name, &p.OwnerId, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		return types.Project{}, err
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (s *Store) GetProject(id string) (types.Project, error) {
	row := s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE id = ? LIMIT 1", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *Store) ListProjects() ([]types.Project, error) {
	rows, err := s.db.Query("SELECT " + projectColumns + " FROM projects ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]types.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) PutProject(p types.Project) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		p.Id, p.Name, p.OwnerId, p.Status, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put project: %w", err)
	}
	return nil
}

// DeleteProject removes the project together with its members, rooms,
// messages, tasks and invites in one transaction.
func (s *Store) DeleteProject(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM messages WHERE room_id IN (SELECT id FROM rooms WHERE project_id = ?)", id); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM rooms WHERE project_id = ?", id); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM tasks WHERE project_id = ?", id); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM members WHERE project_id = ?", id); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM invites WHERE project_id = ?", id); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM projects WHERE id = ?", id); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.notify(topicMembers + id)
	s.notify(topicRooms + id)
	s.notify(topicTasks + id)
	return nil
}

const memberColumns = "project_id, user_id, username, role, inviter_id, joined_at"

func scanMember(row interface{ Scan(...any) error }) (types.ProjectMember, error) {
	var m types.ProjectMember
	var joinedAt string

	err := row.Scan(&m.ProjectId, &m.UserId, &m.Username, &m.Role, &m.InviterId, &joinedAt)
	if err != nil {
		return types.ProjectMember{}, err
	}

	m.JoinedAt = parseTime(joinedAt)
	return m, nil
}

func (s *Store) GetMember(projectId, userId string) (types.ProjectMember, error) {
	row := s.db.QueryRow(
		"SELECT "+memberColumns+" FROM members WHERE project_id = ? AND user_id = ? LIMIT 1",
		projectId, userId,
	)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ProjectMember{}, fmt.Errorf("member %s/%s: %w", projectId, userId, ErrNotFound)
	}
	return m, err
}

func (s *Store) ListMembers(projectId string) ([]types.ProjectMember, error) {
	rows, err := s.db.Query(
		"SELECT "+memberColumns+" FROM members WHERE project_id = ? ORDER BY joined_at, user_id",
		projectId,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]types.ProjectMember, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) PutMember(m types.ProjectMember) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO members ("+memberColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		m.ProjectId, m.UserId, m.Username, m.Role, m.InviterId, fmtTime(m.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("put member: %w", err)
	}

	s.notify(topicMembers + m.ProjectId)
	return nil
}

func (s *Store) PutMembers(members []types.ProjectMember) error {
	for _, m := range members {
		if err := s.PutMember(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteMember(projectId, userId string) error {
	_, err := s.db.Exec("DELETE FROM members WHERE project_id = ? AND user_id = ?", projectId, userId)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}

	s.notify(topicMembers + projectId)
	return nil
}

func (s *Store) GetInvite(code string) (types.Invite, error) {
	row := s.db.QueryRow(
		"SELECT code, project_id, created_by, created_at FROM invites WHERE code = ? LIMIT 1",
		code,
	)

	var inv types.Invite
	var createdAt string
	err := row.Scan(&inv.Code, &inv.ProjectId, &inv.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Invite{}, fmt.Errorf("invite %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return types.Invite{}, err
	}

	inv.CreatedAt = parseTime(createdAt)
	return inv, nil
}

func (s *Store) PutInvite(inv types.Invite) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO invites (code, project_id, created_by, created_at) VALUES (?, ?, ?, ?)",
		inv.Code, inv.ProjectId, inv.CreatedBy, fmtTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put invite: %w", err)
	}
	return nil
}
