package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/permissions"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/stats"
	"github.com/syncdesk/syncdesk/internal/types"
	"github.com/teris-io/shortid"
)

type ChatRepository struct {
	*base
}

// CreateRoom creates a chat room scoped to a project. Every participant,
// including the creator, must be a member of the project.
func (r *ChatRepository) CreateRoom(ctx context.Context, sess *types.Session, projectId, name, description string, participants []string) (types.ChatRoom, error) {
	if err := requireSession(sess); err != nil {
		return types.ChatRoom{}, err
	}
	if _, err := r.member(projectId, sess.UserId); err != nil {
		return types.ChatRoom{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ChatRoom{}, NewValidationError("room name cannot be empty")
	}

	if !slices.Contains(participants, sess.UserId) {
		participants = append(participants, sess.UserId)
	}
	for _, userId := range participants {
		if _, err := r.member(projectId, userId); err != nil {
			return types.ChatRoom{}, err
		}
	}

	externalId, err := shortid.Generate()
	if err != nil {
		return types.ChatRoom{}, NewValidationError("generate room id: %v", err)
	}

	now := time.Now().UTC()
	room := types.ChatRoom{
		Id:           uuid.NewString(),
		ExternalId:   externalId,
		ProjectId:    projectId,
		Name:         name,
		Description:  description,
		Participants: participants,
		CreatedBy:    sess.UserId,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.localWrite(r.local.PutRoom(room)); err != nil {
		return types.ChatRoom{}, err
	}

	r.propagate(ctx, "create room", func(ctx context.Context) error {
		var canonical types.ChatRoom
		if err := r.remote.Insert(ctx, remotestore.TableRooms, room, &canonical); err != nil {
			return err
		}
		if canonical.Id == room.Id {
			if err := r.local.PutRoom(canonical); err != nil {
				r.log.Warnf("reconcile room %s: %v", room.Id, err)
			}
		}
		return nil
	})

	return room, nil
}

func (r *ChatRepository) GetRoom(ctx context.Context, roomId string) (types.ChatRoom, error) {
	room, err := r.local.GetRoom(roomId)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return types.ChatRoom{}, NewValidationError("room %s not found", roomId)
		}
		return types.ChatRoom{}, NewLocalStoreError(err)
	}
	return room, nil
}

// GetRoomByExternalId resolves the short shareable room handle.
func (r *ChatRepository) GetRoomByExternalId(ctx context.Context, externalId string) (types.ChatRoom, error) {
	room, err := r.local.GetRoomByExternalId(externalId)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return types.ChatRoom{}, NewValidationError("room %s not found", externalId)
		}
		return types.ChatRoom{}, NewLocalStoreError(err)
	}
	return room, nil
}

func (r *ChatRepository) ListRooms(ctx context.Context, projectId string) ([]types.ChatRoom, error) {
	rooms, err := r.local.ListRooms(projectId)
	if err != nil {
		return nil, NewLocalStoreError(err)
	}
	return rooms, nil
}

// RoomsLive subscribes to the project's room list.
func (r *ChatRepository) RoomsLive(projectId string) (<-chan []types.ChatRoom, func()) {
	return r.local.RoomsLive(projectId)
}

// participantRoom loads the room and verifies the caller participates.
func (r *ChatRepository) participantRoom(ctx context.Context, sess *types.Session, roomId string) (types.ChatRoom, error) {
	if err := requireSession(sess); err != nil {
		return types.ChatRoom{}, err
	}

	room, err := r.GetRoom(ctx, roomId)
	if err != nil {
		return types.ChatRoom{}, err
	}
	if !slices.Contains(room.Participants, sess.UserId) {
		return types.ChatRoom{}, NewValidationError("user %s is not a participant of room %s", sess.UserId, roomId)
	}
	return room, nil
}

// UpdateRoom renames the room or changes its description.
func (r *ChatRepository) UpdateRoom(ctx context.Context, sess *types.Session, roomId, name, description string) (types.ChatRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ChatRoom{}, NewValidationError("room name cannot be empty")
	}

	unlock := r.locks.Lock(roomId)
	defer unlock()

	room, err := r.participantRoom(ctx, sess, roomId)
	if err != nil {
		return types.ChatRoom{}, err
	}

	room.Name = name
	room.Description = description
	room.UpdatedAt = time.Now().UTC()
	if err := r.localWrite(r.local.PutRoom(room)); err != nil {
		return types.ChatRoom{}, err
	}

	r.propagate(ctx, "update room", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableRooms, roomId, map[string]any{
			"name":        room.Name,
			"description": room.Description,
			"updated_at":  room.UpdatedAt,
		})
	})

	return room, nil
}

// SetRoomPinned toggles the room's pinned flag for list ordering.
func (r *ChatRepository) SetRoomPinned(ctx context.Context, sess *types.Session, roomId string, pinned bool) error {
	return r.setRoomFlag(ctx, sess, roomId, "pinned", pinned)
}

// SetRoomArchived toggles the room's archived flag.
func (r *ChatRepository) SetRoomArchived(ctx context.Context, sess *types.Session, roomId string, archived bool) error {
	return r.setRoomFlag(ctx, sess, roomId, "archived", archived)
}

func (r *ChatRepository) setRoomFlag(ctx context.Context, sess *types.Session, roomId, flag string, value bool) error {
	unlock := r.locks.Lock(roomId)
	defer unlock()

	room, err := r.participantRoom(ctx, sess, roomId)
	if err != nil {
		return err
	}

	switch flag {
	case "pinned":
		room.Pinned = value
	case "archived":
		room.Archived = value
	}
	room.UpdatedAt = time.Now().UTC()

	if err := r.localWrite(r.local.PutRoom(room)); err != nil {
		return err
	}

	r.propagate(ctx, "set room "+flag, func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableRooms, roomId, map[string]any{
			flag:         value,
			"updated_at": room.UpdatedAt,
		})
	})

	return nil
}

// AddParticipant adds a project member to the room.
func (r *ChatRepository) AddParticipant(ctx context.Context, sess *types.Session, roomId, userId string) (types.ChatRoom, error) {
	unlock := r.locks.Lock(roomId)
	defer unlock()

	room, err := r.participantRoom(ctx, sess, roomId)
	if err != nil {
		return types.ChatRoom{}, err
	}
	if _, err := r.member(room.ProjectId, userId); err != nil {
		return types.ChatRoom{}, err
	}
	if slices.Contains(room.Participants, userId) {
		return types.ChatRoom{}, NewValidationError("user %s is already a participant", userId)
	}

	room.Participants = append(room.Participants, userId)
	room.UpdatedAt = time.Now().UTC()
	if err := r.localWrite(r.local.PutRoom(room)); err != nil {
		return types.ChatRoom{}, err
	}

	r.propagate(ctx, "add participant", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableRooms, roomId, map[string]any{
			"participants": room.Participants,
			"updated_at":   room.UpdatedAt,
		})
	})

	return room, nil
}

// RemoveParticipant removes a participant. Participants may remove
// themselves; removing others is reserved for the room's creator or a
// member holding EDIT_PROJECT.
func (r *ChatRepository) RemoveParticipant(ctx context.Context, sess *types.Session, roomId, userId string) (types.ChatRoom, error) {
	unlock := r.locks.Lock(roomId)
	defer unlock()

	room, err := r.participantRoom(ctx, sess, roomId)
	if err != nil {
		return types.ChatRoom{}, err
	}
	if !slices.Contains(room.Participants, userId) {
		return types.ChatRoom{}, NewValidationError("user %s is not a participant", userId)
	}

	if userId != sess.UserId && room.CreatedBy != sess.UserId {
		if _, err := r.requirePermission(room.ProjectId, sess, permissions.EditProject); err != nil {
			return types.ChatRoom{}, err
		}
	}

	room.Participants = slices.DeleteFunc(room.Participants, func(id string) bool { return id == userId })
	room.UpdatedAt = time.Now().UTC()
	if err := r.localWrite(r.local.PutRoom(room)); err != nil {
		return types.ChatRoom{}, err
	}

	r.propagate(ctx, "remove participant", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableRooms, roomId, map[string]any{
			"participants": room.Participants,
			"updated_at":   room.UpdatedAt,
		})
	})

	return room, nil
}

// DeleteRoom removes the room and its messages. Reserved for the room's
// creator or a member holding EDIT_PROJECT.
func (r *ChatRepository) DeleteRoom(ctx context.Context, sess *types.Session, roomId string) error {
	unlock := r.locks.Lock(roomId)
	defer unlock()

	room, err := r.participantRoom(ctx, sess, roomId)
	if err != nil {
		return err
	}
	if room.CreatedBy != sess.UserId {
		if _, err := r.requirePermission(room.ProjectId, sess, permissions.EditProject); err != nil {
			return err
		}
	}

	if err := r.localWrite(r.local.DeleteRoom(roomId)); err != nil {
		return err
	}

	r.propagate(ctx, "delete room", func(ctx context.Context) error {
		return r.remote.Delete(ctx, remotestore.TableRooms, roomId)
	})

	return nil
}

// SendMessage stages the message locally so the sender sees it
// immediately, then propagates it best-effort. The client-generated id is
// never replaced.
func (r *ChatRepository) SendMessage(ctx context.Context, sess *types.Session, roomId, content string, msgType types.MessageType) (types.Message, error) {
	if content == "" {
		return types.Message{}, NewValidationError("message content cannot be empty")
	}
	if msgType == "" {
		msgType = types.MessageText
	}

	// The room row is read and rewritten for the preview update, so the
	// whole send holds the room lock.
	unlock := r.locks.Lock(roomId)
	defer unlock()

	room, err := r.participantRoom(ctx, sess, roomId)
	if err != nil {
		return types.Message{}, err
	}

	msg := types.Message{
		Id:         uuid.NewString(),
		RoomId:     roomId,
		SenderId:   sess.UserId,
		SenderName: sess.DisplayName,
		Content:    content,
		Type:       msgType,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.localWrite(r.local.PutMessage(msg)); err != nil {
		return types.Message{}, err
	}

	// Denormalized room preview for list rendering.
	room.LastMessage = content
	room.LastMessageAt = msg.CreatedAt
	if err := r.local.PutRoom(room); err != nil {
		r.log.Warnf("update room preview %s: %v", roomId, err)
	}

	r.propagate(ctx, "send message", func(ctx context.Context) error {
		var canonical types.Message
		if err := r.remote.Insert(ctx, remotestore.TableMessages, msg, &canonical); err != nil {
			return err
		}
		if canonical.Id == msg.Id {
			if err := r.local.PutMessage(canonical); err != nil {
				r.log.Warnf("reconcile message %s: %v", msg.Id, err)
			}
		}
		return r.remote.Update(ctx, remotestore.TableRooms, roomId, map[string]any{
			"last_message":    room.LastMessage,
			"last_message_at": room.LastMessageAt,
		})
	})

	return msg, nil
}

// EditMessage rewrites a message's content. Only the sender may edit.
func (r *ChatRepository) EditMessage(ctx context.Context, sess *types.Session, messageId, content string) (types.Message, error) {
	if err := requireSession(sess); err != nil {
		return types.Message{}, err
	}
	if content == "" {
		return types.Message{}, NewValidationError("message content cannot be empty")
	}

	unlock := r.locks.Lock(messageId)
	defer unlock()

	msg, err := r.getMessage(messageId)
	if err != nil {
		return types.Message{}, err
	}
	if msg.SenderId != sess.UserId {
		r.stats.Incr(stats.PermissionDenials)
		return types.Message{}, NewPermissionDenied("only the sender can edit a message")
	}

	msg.Content = content
	msg.Edited = true
	msg.EditedAt = time.Now().UTC()
	if err := r.localWrite(r.local.PutMessage(msg)); err != nil {
		return types.Message{}, err
	}

	r.propagate(ctx, "edit message", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableMessages, messageId, map[string]any{
			"content":   msg.Content,
			"edited":    true,
			"edited_at": msg.EditedAt,
		})
	})

	return msg, nil
}

// DeleteMessage tombstones the message locally and deletes it remotely.
// Only the sender may delete.
func (r *ChatRepository) DeleteMessage(ctx context.Context, sess *types.Session, messageId string) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	unlock := r.locks.Lock(messageId)
	defer unlock()

	msg, err := r.getMessage(messageId)
	if err != nil {
		return err
	}
	if msg.SenderId != sess.UserId {
		r.stats.Incr(stats.PermissionDenials)
		return NewPermissionDenied("only the sender can delete a message")
	}

	if err := r.localWrite(r.local.DeleteMessage(messageId)); err != nil {
		return err
	}

	r.propagate(ctx, "delete message", func(ctx context.Context) error {
		return r.remote.Delete(ctx, remotestore.TableMessages, messageId)
	})

	return nil
}

func (r *ChatRepository) getMessage(messageId string) (types.Message, error) {
	msg, err := r.local.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return types.Message{}, NewValidationError("message %s not found", messageId)
		}
		return types.Message{}, NewLocalStoreError(err)
	}
	return msg, nil
}

// ToggleReaction applies the reaction toggle rule atomically per
// (user, message): tapping the same emoji removes it, a different emoji
// replaces the existing one, and no existing reaction adds it.
func (r *ChatRepository) ToggleReaction(ctx context.Context, sess *types.Session, messageId, emoji string) (types.Message, error) {
	if err := requireSession(sess); err != nil {
		return types.Message{}, err
	}
	if emoji == "" {
		return types.Message{}, NewValidationError("emoji cannot be empty")
	}

	unlock := r.locks.Lock(messageId)
	defer unlock()

	msg, err := r.getMessage(messageId)
	if err != nil {
		return types.Message{}, err
	}

	if msg.Reactions == nil {
		msg.Reactions = make(map[string]string)
	}
	if existing, ok := msg.Reactions[sess.UserId]; ok && existing == emoji {
		delete(msg.Reactions, sess.UserId)
	} else {
		msg.Reactions[sess.UserId] = emoji
	}

	if err := r.localWrite(r.local.PutMessage(msg)); err != nil {
		return types.Message{}, err
	}

	r.propagate(ctx, "toggle reaction", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableMessages, messageId, map[string]any{
			"reactions": msg.Reactions,
		})
	})

	return msg, nil
}

// MarkMessageRead adds the caller to the message's read set. The read set
// is monotonic; marking is a no-op for the sender or an already-read
// message, and no write of any kind happens in the no-op cases.
func (r *ChatRepository) MarkMessageRead(ctx context.Context, sess *types.Session, messageId string) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	unlock := r.locks.Lock(messageId)
	defer unlock()

	msg, err := r.getMessage(messageId)
	if err != nil {
		return err
	}
	if msg.SenderId == sess.UserId || msg.HasRead(sess.UserId) {
		return nil
	}

	msg.ReadBy = append(msg.ReadBy, sess.UserId)
	if err := r.localWrite(r.local.PutMessage(msg)); err != nil {
		return err
	}

	r.propagate(ctx, "mark message read", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableMessages, messageId, map[string]any{
			"read_by": msg.ReadBy,
		})
	})

	return nil
}

// MarkRoomRead marks every unread message in the room as read by the
// caller, touching only messages the caller did not send and has not
// already read.
func (r *ChatRepository) MarkRoomRead(ctx context.Context, sess *types.Session, roomId string) error {
	if _, err := r.participantRoom(ctx, sess, roomId); err != nil {
		return err
	}

	unread, err := r.local.ListUnreadMessages(roomId, sess.UserId)
	if err != nil {
		return NewLocalStoreError(err)
	}

	for _, msg := range unread {
		if err := r.MarkMessageRead(ctx, sess, msg.Id); err != nil {
			return err
		}
	}
	return nil
}

// MessagesLive subscribes to the room's newest messages, re-emitting on
// every local change. Cancel the subscription when the screen goes away.
func (r *ChatRepository) MessagesLive(roomId string) (<-chan []types.Message, func()) {
	return r.local.MessagesLive(roomId)
}

// LoadOlderMessages pages backwards through room history, preferring the
// remote store for history not yet cached and falling back to the local
// cache when the remote is unreachable. Results are descending by
// (created_at, id).
func (r *ChatRepository) LoadOlderMessages(ctx context.Context, roomId string, before time.Time, beforeId string, limit int) ([]types.Message, error) {
	var cursor string
	if !before.IsZero() {
		cursor = remoteTime(before)
	}

	var fetched []types.Message
	err := r.remote.SelectMany(ctx, remotestore.TableMessages, remotestore.Query{
		Filter:  map[string]any{"room_id": roomId},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   limit,
		Cursor:  cursor,
	}, &fetched)
	if err == nil {
		if len(fetched) > 0 {
			if err := r.local.PutMessages(fetched); err != nil {
				r.log.Warnf("backfill messages for room %s: %v", roomId, err)
			}
		}
		// Serve from the cache so ordering and tie-breaks are uniform.
		msgs, lerr := r.local.ListMessages(roomId, before, beforeId, limit)
		if lerr != nil {
			return nil, NewLocalStoreError(lerr)
		}
		return msgs, nil
	}

	r.log.Warnf("load older messages for room %s remotely: %v", roomId, err)

	msgs, lerr := r.local.ListMessages(roomId, before, beforeId, limit)
	if lerr != nil {
		return nil, NewLocalStoreError(lerr)
	}
	if len(msgs) == 0 {
		// No local fallback to serve: this is the one read path where a
		// remote failure surfaces.
		return nil, NewRemoteStoreError(err)
	}
	return msgs, nil
}
