package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/permissions"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/stats"
	"github.com/syncdesk/syncdesk/internal/types"
)

// Repositories bundles the sync repositories sharing one local cache, one
// remote store, and one per-entity lock table.
type Repositories struct {
	Users    *UserRepository
	Projects *ProjectRepository
	Chat     *ChatRepository
	Tasks    *TaskRepository
}

func New(log logrus.FieldLogger, local localstore.LocalStore, remote remotestore.RemoteStore, st stats.Provider) *Repositories {
	b := &base{
		log:    log,
		local:  local,
		remote: remote,
		stats:  st,
		locks:  newKeyedMutex(),
	}

	return &Repositories{
		Users:    &UserRepository{base: b},
		Projects: &ProjectRepository{base: b},
		Chat:     &ChatRepository{base: b},
		Tasks:    &TaskRepository{base: b},
	}
}

type base struct {
	log    logrus.FieldLogger
	local  localstore.LocalStore
	remote remotestore.RemoteStore
	stats  stats.Provider
	locks  *keyedMutex
}

// localWrite wraps a completed local store write: its failure is fatal to
// the operation.
func (b *base) localWrite(err error) error {
	if err != nil {
		return NewLocalStoreError(err)
	}
	b.stats.Incr(stats.LocalWrites)
	return nil
}

// propagate runs the remote half of an already-staged local mutation. It
// is best-effort: failure is logged and counted, never surfaced, and the
// call is detached from the caller's cancellation so a half-applied write
// cannot result from the caller going away mid-request.
func (b *base) propagate(ctx context.Context, op string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	if err := fn(ctx); err != nil {
		b.stats.Incr(stats.RemoteFailures)
		b.log.Warnf("%s: remote propagation failed: %v", op, err)
		return
	}
	b.stats.Incr(stats.RemoteWrites)
}

func requireSession(sess *types.Session) error {
	if sess == nil || sess.UserId == "" {
		return NewValidationError("no active session")
	}
	return nil
}

// member resolves the caller's membership in the project from the local
// snapshot. A missing row is the expected "not a member" validation case.
func (b *base) member(projectId, userId string) (types.ProjectMember, error) {
	m, err := b.local.GetMember(projectId, userId)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return types.ProjectMember{}, NewValidationError("user %s is not a member of project %s", userId, projectId)
		}
		return types.ProjectMember{}, NewLocalStoreError(err)
	}
	return m, nil
}

// requirePermission gates a privileged operation on the caller's current
// role. Denials short-circuit before any write.
func (b *base) requirePermission(projectId string, sess *types.Session, perm permissions.Permission) (types.ProjectMember, error) {
	if err := requireSession(sess); err != nil {
		return types.ProjectMember{}, err
	}

	m, err := b.member(projectId, sess.UserId)
	if err != nil {
		return types.ProjectMember{}, err
	}

	if d := permissions.HasPermission(m, perm); !d.Granted {
		b.stats.Incr(stats.PermissionDenials)
		return types.ProjectMember{}, NewPermissionDenied(d.Reason)
	}
	return m, nil
}

// remoteTime renders a timestamp as a remote pagination cursor.
func remoteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// memberRow is the remote representation of a membership: the composite
// (project, user) key is flattened into a single row id.
type memberRow struct {
	Id string `json:"id"`
	types.ProjectMember
}

func memberRowId(projectId, userId string) string {
	return fmt.Sprintf("%s/%s", projectId, userId)
}

func newMemberRow(m types.ProjectMember) memberRow {
	return memberRow{Id: memberRowId(m.ProjectId, m.UserId), ProjectMember: m}
}
