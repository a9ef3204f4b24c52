package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/repository"
	"github.com/syncdesk/syncdesk/internal/stats"
	"github.com/syncdesk/syncdesk/internal/testutil"
	"github.com/syncdesk/syncdesk/internal/types"
)

func newTestManager(t *testing.T) (*Manager, *localstore.Store, *remotestore.MockRemoteStore) {
	t.Helper()

	local, err := localstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := &remotestore.MockRemoteStore{}
	repos := repository.New(testutil.TestLogger(t), local, remote, stats.NopProvider{})
	return NewManager(testutil.TestLogger(t), local, remote, repos.Users), local, remote
}

func TestSignInOnline(t *testing.T) {
	m, local, remote := newTestManager(t)

	user := types.User{Id: "u1", Email: "a@example.com", DisplayName: "Ann"}
	remote.On("SignIn", mock.Anything, "a@example.com", "pw").Return(remotestore.AuthResult{
		User:        user,
		AccessToken: "token-123",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil)
	// The presence write that follows a successful sign-in.
	remote.On("Update", mock.Anything, remotestore.TableUsers, "u1", mock.Anything).Return(nil)

	sess, err := m.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserId)
	assert.Equal(t, "token-123", sess.AccessToken)
	assert.Same(t, sess, m.Current())

	// Profile and credential are cached for offline use.
	cached, err := local.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", cached.DisplayName)
	assert.True(t, cached.Online)

	cred, err := local.GetCredential("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", cred.UserId)
	assert.NotEmpty(t, cred.PasswordHash)
	assert.NotEqual(t, "pw", cred.PasswordHash)
}

func TestSignInRejectedCredentials(t *testing.T) {
	m, _, remote := newTestManager(t)

	remote.On("SignIn", mock.Anything, "a@example.com", "wrong").Return(
		remotestore.AuthResult{},
		&remotestore.RemoteError{Op: "sign_in", Table: "users", Err: remotestore.ErrBadCredentials},
	)

	_, err := m.SignIn(context.Background(), "a@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, m.Current())
}

func TestSignInOfflineWithCachedCredential(t *testing.T) {
	m, local, remote := newTestManager(t)

	down := &remotestore.RemoteError{Op: "sign_in", Table: "auth", Err: errors.New("connection refused")}

	// First time online so the credential gets cached.
	user := types.User{Id: "u1", Email: "a@example.com", DisplayName: "Ann"}
	remote.On("SignIn", mock.Anything, "a@example.com", "pw").Return(remotestore.AuthResult{User: user}, nil).Once()
	remote.On("Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	_, err := m.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, m.SignOut(context.Background()))

	// Backend goes away: the cached hash lets the same password in.
	remote.On("SignIn", mock.Anything, "a@example.com", "pw").Return(remotestore.AuthResult{}, down)
	remote.On("SignIn", mock.Anything, "a@example.com", "bad").Return(remotestore.AuthResult{}, down)

	sess, err := m.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserId)
	assert.Empty(t, sess.AccessToken)
	assert.False(t, sess.ExpiresAt.After(time.Now().Add(offlineSessionTTL)))

	// A wrong password still fails offline.
	_, err = m.SignIn(context.Background(), "a@example.com", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	cred, err := local.GetCredential("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", cred.UserId)
}

func TestSignInOfflineUnknownUser(t *testing.T) {
	m, _, remote := newTestManager(t)

	down := &remotestore.RemoteError{Op: "sign_in", Table: "auth", Err: errors.New("connection refused")}
	remote.On("SignIn", mock.Anything, "no@example.com", "pw").Return(remotestore.AuthResult{}, down)

	_, err := m.SignIn(context.Background(), "no@example.com", "pw")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignOut(t *testing.T) {
	m, _, remote := newTestManager(t)

	user := types.User{Id: "u1", Email: "a@example.com", DisplayName: "Ann"}
	remote.On("SignIn", mock.Anything, "a@example.com", "pw").Return(remotestore.AuthResult{User: user}, nil)
	remote.On("Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := m.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, m.SignOut(context.Background()))
	assert.Nil(t, m.Current())

	// Signing out twice reports the missing session.
	require.ErrorIs(t, m.SignOut(context.Background()), ErrNoSession)
}

func TestTokenExpiryFromClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	got, ok := tokenExpiry(signed)
	require.True(t, ok)
	assert.Equal(t, exp.Unix(), got.Unix())

	_, ok = tokenExpiry("not a token")
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	m, local, remote := newTestManager(t)

	require.NoError(t, local.PutUser(types.User{Id: "u1", Email: "a@example.com", DisplayName: "Ann"}))
	remote.On("SelectOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&remotestore.RemoteError{Op: "select_one", Table: "users", Err: errors.New("offline")}).Maybe()

	sess, err := m.Restore(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserId)
	assert.Equal(t, "Ann", sess.DisplayName)
	assert.Same(t, sess, m.Current())
}
