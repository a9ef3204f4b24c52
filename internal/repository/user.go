package repository

import (
	"context"
	"errors"
	"time"

	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/types"
)

type UserRepository struct {
	*base
}

// GetUser serves the profile from the local cache, fetching and caching
// it remotely on a miss.
func (r *UserRepository) GetUser(ctx context.Context, userId string) (types.User, error) {
	user, err := r.local.GetUser(userId)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return types.User{}, NewLocalStoreError(err)
	}

	if rerr := r.remote.SelectOne(ctx, remotestore.TableUsers, userId, &user); rerr != nil {
		if errors.Is(rerr, remotestore.ErrNotFound) {
			return types.User{}, NewValidationError("user %s not found", userId)
		}
		return types.User{}, NewRemoteStoreError(rerr)
	}
	if cerr := r.local.PutUser(user); cerr != nil {
		r.log.Warnf("cache user %s: %v", userId, cerr)
	}
	return user, nil
}

// UpdateProfileParams carries the mutable profile fields. A nil field
// leaves the current value untouched.
type UpdateProfileParams struct {
	DisplayName *string
	Bio         *string
	Links       *[]string
}

// UpdateProfile edits the caller's own profile. Profiles of other users
// are read-only.
func (r *UserRepository) UpdateProfile(ctx context.Context, sess *types.Session, userId string, params UpdateProfileParams) (types.User, error) {
	if err := requireSession(sess); err != nil {
		return types.User{}, err
	}
	if userId != sess.UserId {
		return types.User{}, NewPermissionDenied("users can only edit their own profile")
	}

	unlock := r.locks.Lock(userId)
	defer unlock()

	user, err := r.GetUser(ctx, userId)
	if err != nil {
		return types.User{}, err
	}

	if params.DisplayName != nil {
		if *params.DisplayName == "" {
			return types.User{}, NewValidationError("display name cannot be empty")
		}
		user.DisplayName = *params.DisplayName
	}
	if params.Bio != nil {
		user.Bio = *params.Bio
	}
	if params.Links != nil {
		user.Links = *params.Links
	}
	user.UpdatedAt = time.Now().UTC()

	if err := r.localWrite(r.local.PutUser(user)); err != nil {
		return types.User{}, err
	}

	r.propagate(ctx, "update profile", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableUsers, userId, map[string]any{
			"display_name": user.DisplayName,
			"bio":          user.Bio,
			"links":        user.Links,
			"updated_at":   user.UpdatedAt,
		})
	})

	return user, nil
}

// SetPresence records the caller's online flag and last-seen time, local
// first so the user's own UI flips immediately.
func (r *UserRepository) SetPresence(ctx context.Context, sess *types.Session, online bool) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	unlock := r.locks.Lock(sess.UserId)
	defer unlock()

	user, err := r.GetUser(ctx, sess.UserId)
	if err != nil {
		return err
	}

	user.Online = online
	user.LastSeen = time.Now().UTC()

	if err := r.localWrite(r.local.PutUser(user)); err != nil {
		return err
	}

	r.propagate(ctx, "set presence", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableUsers, sess.UserId, map[string]any{
			"online":    user.Online,
			"last_seen": user.LastSeen,
		})
	})

	return nil
}
