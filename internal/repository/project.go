package repository

import (
	"context"
	"errors"
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

type ProjectRepository struct {
	*base
}

// CreateProject creates a project with the caller as its first admin. The
// project and the owner membership are written remotely as two independent
// calls; a failure between them leaves the remote partially written until
// a later sync repairs it.
func (r *ProjectRepository) CreateProject(ctx context.Context, sess *types.Session, name string) (types.Project, error) {
	if err := requireSession(sess); err != nil {
		return types.Project{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Project{}, NewValidationError("project name cannot be empty")
	}

	now := time.Now().UTC()
	project := types.Project{
		Id:        uuid.NewString(),
		Name:      name,
		OwnerId:   sess.UserId,
		Status:    types.ProjectActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := types.ProjectMember{
		ProjectId: project.Id,
		UserId:    sess.UserId,
		Username:  sess.DisplayName,
		Role:      types.RoleAdmin,
		JoinedAt:  now,
	}

	if err := r.localWrite(r.local.PutProject(project)); err != nil {
		return types.Project{}, err
	}
	if err := r.localWrite(r.local.PutMember(owner)); err != nil {
		return types.Project{}, err
	}

	r.propagate(ctx, "create project", func(ctx context.Context) error {
		var canonical types.Project
		if err := r.remote.Insert(ctx, remotestore.TableProjects, project, &canonical); err != nil {
			return err
		}
		if canonical.Id == project.Id {
			if err := r.local.PutProject(canonical); err != nil {
				r.log.Warnf("reconcile project %s: %v", project.Id, err)
			}
		}
		return r.remote.Insert(ctx, remotestore.TableMembers, newMemberRow(owner), nil)
	})

	return project, nil
}

func (r *ProjectRepository) GetProject(ctx context.Context, id string) (types.Project, error) {
	p, err := r.local.GetProject(id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return types.Project{}, NewLocalStoreError(err)
	}

	if err := r.remote.SelectOne(ctx, remotestore.TableProjects, id, &p); err != nil {
		return types.Project{}, NewRemoteStoreError(err)
	}
	if err := r.local.PutProject(p); err != nil {
		r.log.Warnf("cache project %s: %v", id, err)
	}
	return p, nil
}

func (r *ProjectRepository) ListProjects(ctx context.Context) ([]types.Project, error) {
	projects, err := r.local.ListProjects()
	if err != nil {
		return nil, NewLocalStoreError(err)
	}
	return projects, nil
}

// RenameProject requires the EDIT_PROJECT permission.
func (r *ProjectRepository) RenameProject(ctx context.Context, sess *types.Session, projectId, name string) (types.Project, error) {
	if _, err := r.requirePermission(projectId, sess, permissions.EditProject); err != nil {
		return types.Project{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Project{}, NewValidationError("project name cannot be empty")
	}

	unlock := r.locks.Lock(projectId)
	defer unlock()

	project, err := r.local.GetProject(projectId)
	if err != nil {
		return types.Project{}, NewLocalStoreError(err)
	}

	project.Name = name
	project.UpdatedAt = time.Now().UTC()
	if err := r.localWrite(r.local.PutProject(project)); err != nil {
		return types.Project{}, err
	}

	r.propagate(ctx, "rename project", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableProjects, projectId, map[string]any{
			"name":       project.Name,
			"updated_at": project.UpdatedAt,
		})
	})

	return project, nil
}

// SetProjectStatus archives, completes or reactivates a project. Archiving
// is gated on ARCHIVE_PROJECT, the other transitions on EDIT_PROJECT.
func (r *ProjectRepository) SetProjectStatus(ctx context.Context, sess *types.Session, projectId string, status types.ProjectStatus) (types.Project, error) {
	switch status {
	case types.ProjectActive, types.ProjectArchived, types.ProjectCompleted:
	default:
		return types.Project{}, NewValidationError("unknown project status %q", status)
	}

	perm := permissions.EditProject
	if status == types.ProjectArchived {
		perm = permissions.ArchiveProject
	}
	if _, err := r.requirePermission(projectId, sess, perm); err != nil {
		return types.Project{}, err
	}

	unlock := r.locks.Lock(projectId)
	defer unlock()

	project, err := r.local.GetProject(projectId)
	if err != nil {
		return types.Project{}, NewLocalStoreError(err)
	}

	project.Status = status
	project.UpdatedAt = time.Now().UTC()
	if err := r.localWrite(r.local.PutProject(project)); err != nil {
		return types.Project{}, err
	}

	r.propagate(ctx, "set project status", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableProjects, projectId, map[string]any{
			"status":     project.Status,
			"updated_at": project.UpdatedAt,
		})
	})

	return project, nil
}

// DeleteProject requires DELETE_PROJECT and removes the project with all
// of its dependent rows from the local cache.
func (r *ProjectRepository) DeleteProject(ctx context.Context, sess *types.Session, projectId string) error {
	if _, err := r.requirePermission(projectId, sess, permissions.DeleteProject); err != nil {
		return err
	}

	unlock := r.locks.Lock(projectId)
	defer unlock()

	if err := r.localWrite(r.local.DeleteProject(projectId)); err != nil {
		return err
	}

	r.propagate(ctx, "delete project", func(ctx context.Context) error {
		return r.remote.Delete(ctx, remotestore.TableProjects, projectId)
	})

	return nil
}

func (r *ProjectRepository) GetMember(ctx context.Context, projectId, userId string) (types.ProjectMember, error) {
	return r.member(projectId, userId)
}

func (r *ProjectRepository) ListMembers(ctx context.Context, projectId string) ([]types.ProjectMember, error) {
	members, err := r.local.ListMembers(projectId)
	if err != nil {
		return nil, NewLocalStoreError(err)
	}
	return members, nil
}

// MembersLive subscribes to the project's membership; cancel must be
// called when the observer goes away.
func (r *ProjectRepository) MembersLive(projectId string) (<-chan []types.ProjectMember, func()) {
	return r.local.MembersLive(projectId)
}

// InviteMember adds a user to the project. The inviter needs
// INVITE_MEMBERS and cannot grant a rank above their own.
func (r *ProjectRepository) InviteMember(ctx context.Context, sess *types.Session, projectId string, user types.User, role types.Role) (types.ProjectMember, error) {
	inviter, err := r.requirePermission(projectId, sess, permissions.InviteMembers)
	if err != nil {
		return types.ProjectMember{}, err
	}
	if !role.Valid() {
		return types.ProjectMember{}, NewValidationError("unknown role %q", role)
	}
	if role.Outranks(inviter.Role) {
		r.stats.Incr(stats.PermissionDenials)
		return types.ProjectMember{}, NewPermissionDenied("cannot invite a member at a rank above your own")
	}

	if _, err := r.local.GetMember(projectId, user.Id); err == nil {
		return types.ProjectMember{}, NewValidationError("user %s is already a member", user.Id)
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return types.ProjectMember{}, NewLocalStoreError(err)
	}

	member := types.ProjectMember{
		ProjectId: projectId,
		UserId:    user.Id,
		Username:  user.DisplayName,
		Role:      role,
		InviterId: sess.UserId,
		JoinedAt:  time.Now().UTC(),
	}

	// Cache the invitee so their name renders offline.
	if err := r.local.PutUser(user); err != nil {
		r.log.Warnf("cache user %s: %v", user.Id, err)
	}
	if err := r.localWrite(r.local.PutMember(member)); err != nil {
		return types.ProjectMember{}, err
	}

	r.propagate(ctx, "invite member", func(ctx context.Context) error {
		return r.remote.Insert(ctx, remotestore.TableMembers, newMemberRow(member), nil)
	})

	return member, nil
}

// RemoveMember removes a member. Callers may always remove themselves;
// removing someone else requires REMOVE_MEMBERS and an equal-or-lower
// ranked target. Either way the project must keep at least one admin.
func (r *ProjectRepository) RemoveMember(ctx context.Context, sess *types.Session, projectId, targetUserId string) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	caller, err := r.member(projectId, sess.UserId)
	if err != nil {
		return err
	}
	target, err := r.member(projectId, targetUserId)
	if err != nil {
		return err
	}

	if sess.UserId != targetUserId {
		if d := permissions.HasPermission(caller, permissions.RemoveMembers); !d.Granted {
			r.stats.Incr(stats.PermissionDenials)
			return NewPermissionDenied(d.Reason)
		}
		if d := permissions.CanRemoveMember(caller.Role, target.Role); !d.Granted {
			r.stats.Incr(stats.PermissionDenials)
			return NewPermissionDenied(d.Reason)
		}
	}

	members, err := r.local.ListMembers(projectId)
	if err != nil {
		return NewLocalStoreError(err)
	}
	if d := permissions.CanRemoveWithoutBreakingProject(members, target); !d.Granted {
		return NewValidationError("%s", d.Reason)
	}

	if err := r.localWrite(r.local.DeleteMember(projectId, targetUserId)); err != nil {
		return err
	}

	r.propagate(ctx, "remove member", func(ctx context.Context) error {
		return r.remote.Delete(ctx, remotestore.TableMembers, memberRowId(projectId, targetUserId))
	})

	return nil
}

// ChangeMemberRole requires CHANGE_MEMBER_ROLES and the rank-ordering rule
// on both the target's current and requested role. Demoting an admin is
// subject to the last-admin invariant.
func (r *ProjectRepository) ChangeMemberRole(ctx context.Context, sess *types.Session, projectId, targetUserId string, newRole types.Role) (types.ProjectMember, error) {
	caller, err := r.requirePermission(projectId, sess, permissions.ChangeMemberRoles)
	if err != nil {
		return types.ProjectMember{}, err
	}

	target, err := r.member(projectId, targetUserId)
	if err != nil {
		return types.ProjectMember{}, err
	}

	if d := permissions.CanChangeRole(caller.Role, target.Role, newRole); !d.Granted {
		r.stats.Incr(stats.PermissionDenials)
		return types.ProjectMember{}, NewPermissionDenied(d.Reason)
	}

	if target.Role == types.RoleAdmin && newRole != types.RoleAdmin {
		members, err := r.local.ListMembers(projectId)
		if err != nil {
			return types.ProjectMember{}, NewLocalStoreError(err)
		}
		if d := permissions.CanRemoveWithoutBreakingProject(members, target); !d.Granted {
			return types.ProjectMember{}, NewValidationError("%s", d.Reason)
		}
	}

	target.Role = newRole
	if err := r.localWrite(r.local.PutMember(target)); err != nil {
		return types.ProjectMember{}, err
	}

	r.propagate(ctx, "change member role", func(ctx context.Context) error {
		return r.remote.Update(ctx, remotestore.TableMembers, memberRowId(projectId, targetUserId), map[string]any{
			"role": newRole,
		})
	})

	return target, nil
}

// CreateInvite mints a shareable invite code for the project.
func (r *ProjectRepository) CreateInvite(ctx context.Context, sess *types.Session, projectId string) (types.Invite, error) {
	if _, err := r.requirePermission(projectId, sess, permissions.InviteMembers); err != nil {
		return types.Invite{}, err
	}

	code, err := shortid.Generate()
	if err != nil {
		return types.Invite{}, NewValidationError("generate invite code: %v", err)
	}

	invite := types.Invite{
		Code:      code,
		ProjectId: projectId,
		CreatedBy: sess.UserId,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.localWrite(r.local.PutInvite(invite)); err != nil {
		return types.Invite{}, err
	}

	r.propagate(ctx, "create invite", func(ctx context.Context) error {
		return r.remote.Insert(ctx, remotestore.TableInvites, invite, nil)
	})

	return invite, nil
}

// JoinProject redeems an invite code, adding the caller as a MEMBER. The
// invite is resolved remotely first so codes created on other devices
// work; the local cache is the offline fallback.
func (r *ProjectRepository) JoinProject(ctx context.Context, sess *types.Session, code string) (types.ProjectMember, error) {
	if err := requireSession(sess); err != nil {
		return types.ProjectMember{}, err
	}

	var invite types.Invite
	if err := r.remote.SelectOne(ctx, remotestore.TableInvites, code, &invite); err != nil {
		r.log.Warnf("resolve invite %s remotely: %v", code, err)
		local, lerr := r.local.GetInvite(code)
		if lerr != nil {
			if errors.Is(lerr, localstore.ErrNotFound) {
				return types.ProjectMember{}, NewValidationError("unknown invite code %q", code)
			}
			return types.ProjectMember{}, NewLocalStoreError(lerr)
		}
		invite = local
	} else if err := r.local.PutInvite(invite); err != nil {
		r.log.Warnf("cache invite %s: %v", code, err)
	}

	if _, err := r.local.GetMember(invite.ProjectId, sess.UserId); err == nil {
		return types.ProjectMember{}, NewValidationError("user %s is already a member", sess.UserId)
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return types.ProjectMember{}, NewLocalStoreError(err)
	}

	member := types.ProjectMember{
		ProjectId: invite.ProjectId,
		UserId:    sess.UserId,
		Username:  sess.DisplayName,
		Role:      types.RoleMember,
		InviterId: invite.CreatedBy,
		JoinedAt:  time.Now().UTC(),
	}

	if err := r.localWrite(r.local.PutMember(member)); err != nil {
		return types.ProjectMember{}, err
	}

	r.propagate(ctx, "join project", func(ctx context.Context) error {
		return r.remote.Insert(ctx, remotestore.TableMembers, newMemberRow(member), nil)
	})

	return member, nil
}
