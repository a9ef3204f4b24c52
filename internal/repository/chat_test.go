package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/stats"
	"github.com/syncdesk/syncdesk/internal/testutil"
	"github.com/syncdesk/syncdesk/internal/types"
)

func seedRoom(t *testing.T, local *localstore.Store, roomId, projectId string, participants []string) {
	t.Helper()
	require.NoError(t, local.PutRoom(types.ChatRoom{
		Id:           roomId,
		ExternalId:   "ext-" + roomId,
		ProjectId:    projectId,
		Name:         "room " + roomId,
		Participants: participants,
		CreatedBy:    participants[0],
		CreatedAt:    time.Now().UTC(),
	}))
}

func TestSendMessageStagesLocallyWhenRemoteDown(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteDown(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	msg, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "hello", types.MessageText)
	require.NoError(t, err)
	require.NotEmpty(t, msg.Id)

	// The message is immediately readable from the cache despite the
	// failed propagation, with the same id.
	got, err := local.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, msg.Id, got.Id)
	assert.Equal(t, "u1", got.SenderId)
}

func TestSendMessageKeepsClientId(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	msg, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "hi", types.MessageText)
	require.NoError(t, err)

	remote.AssertCalled(t, "Insert", mock.Anything, remotestore.TableMessages, mock.MatchedBy(func(row any) bool {
		m, ok := row.(types.Message)
		return ok && m.Id == msg.Id
	}), mock.Anything)
}

func TestSendMessageRequiresParticipant(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	_, err := repos.Chat.SendMessage(context.Background(), testSession("u2"), "r1", "hi", types.MessageText)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestSendMessageUpdatesRoomPreview(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	_, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "latest", types.MessageText)
	require.NoError(t, err)

	room, err := local.GetRoom("r1")
	require.NoError(t, err)
	assert.Equal(t, "latest", room.LastMessage)
	assert.False(t, room.LastMessageAt.IsZero())
}

func TestSendMessageSerializesWithRoomChanges(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		roomId := fmt.Sprintf("r%d", i)
		seedRoom(t, local, roomId, "p1", []string{"u1"})

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, err := repos.Chat.SendMessage(ctx, testSession("u1"), roomId, "hello", types.MessageText)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, err := repos.Chat.AddParticipant(ctx, testSession("u1"), roomId, "u2")
			assert.NoError(t, err)
		}()
		close(start)
		wg.Wait()

		// Whichever write wins the race, neither overwrites the other.
		room, err := local.GetRoom(roomId)
		require.NoError(t, err)
		assert.Contains(t, room.Participants, "u2")
		assert.Equal(t, "hello", room.LastMessage)
	}
}

func TestSendMessageLocalWriteFailure(t *testing.T) {
	local := &localstore.MockLocalStore{}
	remote := &remotestore.MockRemoteStore{}
	st := &stats.MockStatsUpdater{}
	repos := New(testutil.TestLogger(t), local, remote, st)

	local.On("GetRoom", "r1").Return(types.ChatRoom{
		Id: "r1", ProjectId: "p1", Participants: []string{"u1"}, CreatedBy: "u1",
	}, nil)
	local.On("PutMessage", mock.Anything).Return(errors.New("disk full"))

	_, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "hi", types.MessageText)
	require.Error(t, err)
	assert.True(t, IsLocalStoreFailure(err))

	// A failed local stage never reaches the remote store and counts no
	// write.
	remote.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "Incr", stats.LocalWrites)
}

func TestEditMessageDenialCountsStat(t *testing.T) {
	local, err := localstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	st := &stats.MockStatsUpdater{}
	st.On("Incr", stats.PermissionDenials).Once()
	repos := New(testutil.TestLogger(t), local, &remotestore.MockRemoteStore{}, st)

	require.NoError(t, local.PutMessage(types.Message{
		Id: "m1", RoomId: "r1", SenderId: "u1", Content: "mine",
		Type: types.MessageText, CreatedAt: time.Now().UTC(),
	}))

	_, err = repos.Chat.EditMessage(context.Background(), testSession("u2"), "m1", "nope")
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	st.AssertExpectations(t)
}

func TestToggleReaction(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})
	seedRoom(t, local, "r1", "p1", []string{"u1", "u2"})

	msg, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "react to me", types.MessageText)
	require.NoError(t, err)

	ctx := context.Background()
	u2 := testSession("u2")

	// Add.
	got, err := repos.Chat.ToggleReaction(ctx, u2, msg.Id, "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", got.Reactions["u2"])

	// Different emoji replaces, never accumulates.
	got, err = repos.Chat.ToggleReaction(ctx, u2, msg.Id, "🎉")
	require.NoError(t, err)
	assert.Equal(t, "🎉", got.Reactions["u2"])
	assert.Len(t, got.Reactions, 1)

	// Same emoji removes.
	got, err = repos.Chat.ToggleReaction(ctx, u2, msg.Id, "🎉")
	require.NoError(t, err)
	assert.NotContains(t, got.Reactions, "u2")
}

func TestMarkMessageRead(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})
	seedRoom(t, local, "r1", "p1", []string{"u1", "u2"})

	msg, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "read me", types.MessageText)
	require.NoError(t, err)

	ctx := context.Background()

	// The sender marking their own message is a no-op.
	require.NoError(t, repos.Chat.MarkMessageRead(ctx, testSession("u1"), msg.Id))
	got, err := local.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Empty(t, got.ReadBy)

	// A recipient is recorded once, the repeat is a no-op.
	require.NoError(t, repos.Chat.MarkMessageRead(ctx, testSession("u2"), msg.Id))
	require.NoError(t, repos.Chat.MarkMessageRead(ctx, testSession("u2"), msg.Id))
	got, err = local.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.ReadBy)
}

func TestMarkRoomRead(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})
	seedRoom(t, local, "r1", "p1", []string{"u1", "u2"})

	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		_, err := repos.Chat.SendMessage(ctx, testSession("u1"), "r1", content, types.MessageText)
		require.NoError(t, err)
	}

	// A backlog deeper than a single message page must be marked in full.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backlog := make([]types.Message, 0, 60)
	for i := 0; i < 60; i++ {
		backlog = append(backlog, types.Message{
			Id:        fmt.Sprintf("m%03d", i),
			RoomId:    "r1",
			SenderId:  "u1",
			Content:   "backlog",
			Type:      types.MessageText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, local.PutMessages(backlog))

	require.NoError(t, repos.Chat.MarkRoomRead(ctx, testSession("u2"), "r1"))

	unread, err := local.ListUnreadMessages("r1", "u2")
	require.NoError(t, err)
	assert.Empty(t, unread)

	// The oldest backlog message carries the receipt too.
	oldest, err := local.GetMessage("m000")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, oldest.ReadBy)
}

func TestEditMessageSenderOnly(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})
	seedRoom(t, local, "r1", "p1", []string{"u1", "u2"})

	msg, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "original", types.MessageText)
	require.NoError(t, err)

	_, err = repos.Chat.EditMessage(context.Background(), testSession("u2"), msg.Id, "hijacked")
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	got, err := repos.Chat.EditMessage(context.Background(), testSession("u1"), msg.Id, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Content)
	assert.True(t, got.Edited)
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})
	seedRoom(t, local, "r1", "p1", []string{"u1", "u2"})

	msg, err := repos.Chat.SendMessage(context.Background(), testSession("u1"), "r1", "bye", types.MessageText)
	require.NoError(t, err)

	err = repos.Chat.DeleteMessage(context.Background(), testSession("u2"), msg.Id)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	require.NoError(t, repos.Chat.DeleteMessage(context.Background(), testSession("u1"), msg.Id))
	_, err = local.GetMessage(msg.Id)
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestCreateRoomRejectsNonMemberParticipant(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})

	_, err := repos.Chat.CreateRoom(context.Background(), testSession("u1"), "p1", "general", "", []string{"stranger"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCreateRoomIncludesCreator(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin, "u2": types.RoleMember})

	room, err := repos.Chat.CreateRoom(context.Background(), testSession("u1"), "p1", "general", "", []string{"u2"})
	require.NoError(t, err)
	assert.Contains(t, room.Participants, "u1")
	assert.Contains(t, room.Participants, "u2")
	assert.NotEmpty(t, room.ExternalId)
}

func TestLoadOlderMessagesFallsBackToLocal(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteDown(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, local.PutMessages([]types.Message{
		{Id: "m1", RoomId: "r1", SenderId: "u1", Content: "old", Type: types.MessageText, CreatedAt: base},
		{Id: "m2", RoomId: "r1", SenderId: "u1", Content: "new", Type: types.MessageText, CreatedAt: base.Add(time.Minute)},
	}))

	msgs, err := repos.Chat.LoadOlderMessages(context.Background(), "r1", time.Time{}, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].Id)
}

func TestLoadOlderMessagesRemoteDownAndEmptyCache(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteDown(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	_, err := repos.Chat.LoadOlderMessages(context.Background(), "r1", time.Time{}, "", 10)
	require.Error(t, err)
	assert.True(t, IsRemoteStoreFailure(err))
}

func TestLoadOlderMessagesBackfillsCache(t *testing.T) {
	repos, local, remote := newTestRepos(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote.On("SelectMany", mock.Anything, remotestore.TableMessages, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(3).(*[]types.Message)
			*dest = []types.Message{
				{Id: "m1", RoomId: "r1", SenderId: "u2", Content: "history", Type: types.MessageText, CreatedAt: base},
			}
		}).Return(nil)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	msgs, err := repos.Chat.LoadOlderMessages(context.Background(), "r1", time.Time{}, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	cached, err := local.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, "history", cached.Content)
}

func TestRoomPinnedAndArchived(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"u1": types.RoleAdmin})
	seedRoom(t, local, "r1", "p1", []string{"u1"})

	ctx := context.Background()
	require.NoError(t, repos.Chat.SetRoomPinned(ctx, testSession("u1"), "r1", true))
	require.NoError(t, repos.Chat.SetRoomArchived(ctx, testSession("u1"), "r1", true))

	room, err := local.GetRoom("r1")
	require.NoError(t, err)
	assert.True(t, room.Pinned)
	assert.True(t, room.Archived)
}

func TestRemoveParticipantPermissions(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{
		"creator": types.RoleMember,
		"u2":      types.RoleMember,
		"u3":      types.RoleMember,
	})
	seedRoom(t, local, "r1", "p1", []string{"creator", "u2", "u3"})

	ctx := context.Background()

	// A plain member cannot remove someone else.
	_, err := repos.Chat.RemoveParticipant(ctx, testSession("u2"), "r1", "u3")
	require.Error(t, err)

	// Anyone can remove themselves.
	room, err := repos.Chat.RemoveParticipant(ctx, testSession("u3"), "r1", "u3")
	require.NoError(t, err)
	assert.NotContains(t, room.Participants, "u3")

	// The creator can remove others.
	room, err = repos.Chat.RemoveParticipant(ctx, testSession("creator"), "r1", "u2")
	require.NoError(t, err)
	assert.NotContains(t, room.Participants, "u2")
}
