package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syncdesk/syncdesk/internal/types"
)

const defaultMessagePage = 50

var zeroTime time.Time

const messageColumns = "id, room_id, sender_id, sender_name, content, type, edited, edited_at, " +
	"reactions, read_by, created_at"

func scanMessage(row interface{ Scan(...any) error }) (types.Message, error) {
	var m types.Message
	var editedAt, reactions, readBy, createdAt string
	var edited int

	err := row.Scan(
		&m.Id, &m.RoomId, &m.SenderId, &m.SenderName, &m.Content, &m.Type,
		&edited, &editedAt, &reactions, &readBy, &createdAt,
	)
	if err != nil {
		return types.Message{}, err
	}

	m.Edited = edited == 1
	m.EditedAt = parseTime(editedAt)
	fromJSON(reactions, &m.Reactions)
	fromJSON(readBy, &m.ReadBy)
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func (s *Store) GetMessage(id string) (types.Message, error) {
	row := s.db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ? LIMIT 1", id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMessages returns the room's messages strictly descending by
// (created_at, id). A zero before time means the newest page; otherwise
// only messages older than the (before, beforeId) cursor are returned.
// An empty beforeId places no id bound, so messages sharing the cursor
// timestamp are still included.
func (s *Store) ListMessages(roomId string, before time.Time, beforeId string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultMessagePage
	}

	query := "SELECT " + messageColumns + " FROM messages WHERE room_id = ?"
	args := []any{roomId}

	if !before.IsZero() {
		cursor := fmtTime(before)
		if beforeId == "" {
			query += " AND created_at <= ?"
			args = append(args, cursor)
		} else {
			query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
			args = append(args, cursor, cursor, beforeId)
		}
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListUnreadMessages returns every message in the room not sent by userId
// and not yet read by them. The query is unpaged: batch read-receipt
// marking must see the full backlog, not just the newest page.
func (s *Store) ListUnreadMessages(roomId, userId string) ([]types.Message, error) {
	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE room_id = ? AND sender_id != ? ORDER BY created_at DESC, id DESC",
		roomId, userId,
	)
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}
	defer rows.Close()

	unread := make([]types.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if m.HasRead(userId) {
			continue
		}
		unread = append(unread, m)
	}
	return unread, rows.Err()
}

func (s *Store) PutMessage(m types.Message) error {
	edited := 0
	if m.Edited {
		edited = 1
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.Id, m.RoomId, m.SenderId, m.SenderName, m.Content, m.Type,
		edited, fmtTime(m.EditedAt), toJSON(m.Reactions), toJSON(m.ReadBy), fmtTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}

	s.notify(topicMessages + m.RoomId)
	return nil
}

func (s *Store) PutMessages(msgs []types.Message) error {
	rooms := make(map[string]struct{})
	for _, m := range msgs {
		edited := 0
		if m.Edited {
			edited = 1
		}

		_, err := s.db.Exec(
			"INSERT OR REPLACE INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			m.Id, m.RoomId, m.SenderId, m.SenderName, m.Content, m.Type,
			edited, fmtTime(m.EditedAt), toJSON(m.Reactions), toJSON(m.ReadBy), fmtTime(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("put messages: %w", err)
		}
		rooms[m.RoomId] = struct{}{}
	}

	for roomId := range rooms {
		s.notify(topicMessages + roomId)
	}
	return nil
}

func (s *Store) DeleteMessage(id string) error {
	msg, err := s.GetMessage(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if _, err := s.db.Exec("DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	s.notify(topicMessages + msg.RoomId)
	return nil
}
