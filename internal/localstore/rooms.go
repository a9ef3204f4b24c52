package localstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/syncdesk/syncdesk/internal/types"
)

const roomColumns = "id, external_id, project_id, name, description, participants, created_by, " +
	"last_message, last_message_at, pinned, archived, created_at, updated_at"

func scanRoom(row interface{ Scan(...any) error }) (types.ChatRoom, error) {
	var r types.ChatRoom
	var participants, lastMessageAt, createdAt, updatedAt string
	var pinned, archived int

	err := row.Scan(
		&r.Id, &r.ExternalId, &r.ProjectId, &r.Name, &r.Description, &participants,
		&r.CreatedBy, &r.LastMessage, &lastMessageAt, &pinned, &archived, &createdAt, &updatedAt,
	)
	if err != nil {
		return types.ChatRoom{}, err
	}

	fromJSON(participants, &r.Participants)
	r.LastMessageAt = parseTime(lastMessageAt)
	r.Pinned = pinned == 1
	r.Archived = archived == 1
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func (s *Store) GetRoom(id string) (types.ChatRoom, error) {
	row := s.db.QueryRow("SELECT "+roomColumns+" FROM rooms WHERE id = ? LIMIT 1", id)
	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ChatRoom{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *Store) GetRoomByExternalId(externalId string) (types.ChatRoom, error) {
	row := s.db.QueryRow("SELECT "+roomColumns+" FROM rooms WHERE external_id = ? LIMIT 1", externalId)
	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ChatRoom{}, fmt.Errorf("room %s: %w", externalId, ErrNotFound)
	}
	return r, err
}

// ListRooms returns the project's rooms, pinned first, most recently
// active first within each group.
func (s *Store) ListRooms(projectId string) ([]types.ChatRoom, error) {
	rows, err := s.db.Query(
		"SELECT "+roomColumns+" FROM rooms WHERE project_id = ? "+
			"ORDER BY pinned DESC, last_message_at DESC, created_at DESC, id DESC",
		projectId,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]types.ChatRoom, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *Store) PutRoom(r types.ChatRoom) error {
	pinned, archived := 0, 0
	if r.Pinned {
		pinned = 1
	}
	if r.Archived {
		archived = 1
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO rooms ("+roomColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.Id, r.ExternalId, r.ProjectId, r.Name, r.Description, toJSON(r.Participants),
		r.CreatedBy, r.LastMessage, fmtTime(r.LastMessageAt), pinned, archived,
		fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put room: %w", err)
	}

	s.notify(topicRooms + r.ProjectId)
	return nil
}

// DeleteRoom removes the room and its messages in one transaction.
func (s *Store) DeleteRoom(id string) error {
	room, err := s.GetRoom(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM messages WHERE room_id = ?", id); err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM rooms WHERE id = ?", id); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.notify(topicRooms + room.ProjectId)
	s.notify(topicMessages + id)
	return nil
}
