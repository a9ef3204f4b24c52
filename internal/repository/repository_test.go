package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/stats"
	"github.com/syncdesk/syncdesk/internal/testutil"
	"github.com/syncdesk/syncdesk/internal/types"
)

// errRemoteDown simulates an unreachable backend for every remote call.
var errRemoteDown = &remotestore.RemoteError{Op: "insert", Table: "any", Err: errors.New("connection refused")}

func newTestRepos(t *testing.T) (*Repositories, *localstore.Store, *remotestore.MockRemoteStore) {
	t.Helper()

	local, err := localstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := &remotestore.MockRemoteStore{}
	repos := New(testutil.TestLogger(t), local, remote, stats.NopProvider{})
	return repos, local, remote
}

// remoteUp accepts every write so propagation succeeds silently.
func remoteUp(remote *remotestore.MockRemoteStore) {
	remote.On("Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	remote.On("InsertBatch", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	remote.On("Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	remote.On("Delete", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

// remoteDown fails every remote call.
func remoteDown(remote *remotestore.MockRemoteStore) {
	remote.On("Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()
	remote.On("InsertBatch", mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()
	remote.On("Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()
	remote.On("Delete", mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()
	remote.On("SelectOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()
	remote.On("SelectMany", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()
}

func testSession(userId string) *types.Session {
	return &types.Session{
		UserId:      userId,
		Email:       userId + "@example.com",
		DisplayName: "user " + userId,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

// seedProject installs a project with the given members directly in the
// local cache, bypassing the repositories.
func seedProject(t *testing.T, local *localstore.Store, projectId string, roles map[string]types.Role) {
	t.Helper()

	require.NoError(t, local.PutProject(types.Project{
		Id:        projectId,
		Name:      "seeded",
		Status:    types.ProjectActive,
		CreatedAt: time.Now().UTC(),
	}))
	for userId, role := range roles {
		require.NoError(t, local.PutUser(types.User{Id: userId, DisplayName: "user " + userId}))
		require.NoError(t, local.PutMember(types.ProjectMember{
			ProjectId: projectId,
			UserId:    userId,
			Username:  "user " + userId,
			Role:      role,
			JoinedAt:  time.Now().UTC(),
		}))
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var order []int
	unlock := km.Lock("a")
	done := make(chan struct{})
	go func() {
		u := km.Lock("a")
		order = append(order, 2)
		u()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	order = append(order, 1)
	unlock()
	<-done

	require.Equal(t, []int{1, 2}, order)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		u := km.Lock("b")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestWatcherAppliesUpserts(t *testing.T) {
	local, err := localstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := &remotestore.MockRemoteStore{}
	remote.On("SelectOne", mock.Anything, remotestore.TableMessages, "m1", mock.Anything).
		Run(func(args mock.Arguments) {
			msg := args.Get(3).(*types.Message)
			*msg = types.Message{
				Id: "m1", RoomId: "r1", SenderId: "u2", Content: "from elsewhere",
				Type: types.MessageText, CreatedAt: time.Now().UTC(),
			}
		}).Return(nil)

	w := NewWatcher(testutil.TestLogger(t), local, remote, nil, stats.NopProvider{})
	require.NoError(t, w.apply(context.Background(), remotestore.ChangeEvent{
		Table: remotestore.TableMessages, Id: "m1", Op: remotestore.OpInsert,
	}))

	msg, err := local.GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, "from elsewhere", msg.Content)
}

func TestWatcherAppliesDeletes(t *testing.T) {
	local, err := localstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	require.NoError(t, local.PutMessage(types.Message{
		Id: "m1", RoomId: "r1", SenderId: "u1", Content: "bye",
		Type: types.MessageText, CreatedAt: time.Now().UTC(),
	}))

	w := NewWatcher(testutil.TestLogger(t), local, &remotestore.MockRemoteStore{}, nil, stats.NopProvider{})
	require.NoError(t, w.apply(context.Background(), remotestore.ChangeEvent{
		Table: remotestore.TableMessages, Id: "m1", Op: remotestore.OpDelete,
	}))

	_, err = local.GetMessage("m1")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestWatcherMemberKeySplit(t *testing.T) {
	local, err := localstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	require.NoError(t, local.PutMember(types.ProjectMember{
		ProjectId: "p1", UserId: "u1", Role: types.RoleMember,
	}))

	w := NewWatcher(testutil.TestLogger(t), local, &remotestore.MockRemoteStore{}, nil, stats.NopProvider{})
	require.NoError(t, w.apply(context.Background(), remotestore.ChangeEvent{
		Table: remotestore.TableMembers, Id: "p1/u1", Op: remotestore.OpDelete,
	}))

	_, err = local.GetMember("p1", "u1")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}
