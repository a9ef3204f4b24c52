// Package session authenticates users against the remote store and keeps
// a cached credential so a previously signed-in user can come back while
// offline.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/sirupsen/logrus"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/repository"
	"github.com/syncdesk/syncdesk/internal/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoSession          = errors.New("no active session")
)

// offlineSessionTTL bounds how long an offline re-sign-in stays valid
// before the remote store must be consulted again.
const offlineSessionTTL = 24 * time.Hour

// Manager signs users in and out and tracks the current session. It is
// safe for concurrent use.
type Manager struct {
	log    logrus.FieldLogger
	local  localstore.LocalStore
	remote remotestore.RemoteStore
	users  *repository.UserRepository

	mu      sync.RWMutex
	current *types.Session
}

func NewManager(log logrus.FieldLogger, local localstore.LocalStore, remote remotestore.RemoteStore, users *repository.UserRepository) *Manager {
	return &Manager{
		log:    log,
		local:  local,
		remote: remote,
		users:  users,
	}
}

// Current returns the active session, or nil when signed out.
func (m *Manager) Current() *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SignIn authenticates against the remote store, caching the profile and
// a hash of the password for later offline use. When the remote store is
// unreachable and a cached credential matches, the sign-in succeeds
// offline with a short-lived session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*types.Session, error) {
	res, err := m.remote.SignIn(ctx, email, password)
	if err == nil {
		return m.establish(res, password)
	}

	if errors.Is(err, remotestore.ErrBadCredentials) {
		return nil, ErrInvalidCredentials
	}

	// Anything else is the backend being unreachable: try the cache.
	m.log.Warnf("remote sign-in unavailable, trying cached credential: %v", err)
	return m.signInOffline(email, password)
}

// tokenExpiry reads the exp claim off an access token. The signature is
// not verified here; the backend is the verifier, this is only for
// scheduling re-authentication.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}

func (m *Manager) establish(res remotestore.AuthResult, password string) (*types.Session, error) {
	if err := m.local.PutUser(res.User); err != nil {
		m.log.Warnf("cache profile %s: %v", res.User.Id, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err == nil {
		cred := localstore.Credential{
			Email:        res.User.Email,
			UserId:       res.User.Id,
			PasswordHash: string(hash),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := m.local.PutCredential(cred); err != nil {
			m.log.Warnf("cache credential for %s: %v", res.User.Email, err)
		}
	}

	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() && res.AccessToken != "" {
		if exp, ok := tokenExpiry(res.AccessToken); ok {
			expiresAt = exp
		}
	}

	sess := &types.Session{
		UserId:      res.User.Id,
		Email:       res.User.Email,
		DisplayName: res.User.DisplayName,
		AccessToken: res.AccessToken,
		ExpiresAt:   expiresAt,
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	if err := m.users.SetPresence(context.Background(), sess, true); err != nil {
		m.log.Warnf("mark online: %v", err)
	}

	return sess, nil
}

func (m *Manager) signInOffline(email, password string) (*types.Session, error) {
	cred, err := m.local.GetCredential(email)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := m.local.GetUser(cred.UserId)
	if err != nil {
		return nil, err
	}

	sess := &types.Session{
		UserId:      user.Id,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		ExpiresAt:   time.Now().UTC().Add(offlineSessionTTL),
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	m.log.Infof("signed in offline as %s", email)
	return sess, nil
}

// Restore resumes a session for an already-known user, typically at
// process start. The profile refresh is best-effort.
func (m *Manager) Restore(ctx context.Context, userId string) (*types.Session, error) {
	user, err := m.local.GetUser(userId)
	if err != nil {
		return nil, err
	}

	sess := &types.Session{
		UserId:      user.Id,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		ExpiresAt:   time.Now().UTC().Add(offlineSessionTTL),
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	go func() {
		var fresh types.User
		if err := m.remote.SelectOne(ctx, remotestore.TableUsers, userId, &fresh); err != nil {
			m.log.Warnf("refresh profile %s: %v", userId, err)
			return
		}
		if err := m.local.PutUser(fresh); err != nil {
			m.log.Warnf("cache profile %s: %v", userId, err)
		}
		if err := m.users.SetPresence(ctx, sess, true); err != nil {
			m.log.Warnf("mark online: %v", err)
		}
	}()

	return sess, nil
}

// SignOut marks the user offline and clears the session. The presence
// write follows the usual local-then-remote path, so signing out works
// offline too.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}

	if err := m.users.SetPresence(ctx, sess, false); err != nil {
		m.log.Warnf("mark offline: %v", err)
	}
	return nil
}
