package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/types"
)

func TestCreateProjectMakesOwnerAdmin(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	project, err := repos.Projects.CreateProject(context.Background(), testSession("u1"), "launch")
	require.NoError(t, err)
	require.NotEmpty(t, project.Id)
	assert.Equal(t, "u1", project.OwnerId)
	assert.Equal(t, types.ProjectActive, project.Status)

	m, err := local.GetMember(project.Id, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, m.Role)
}

func TestCreateProjectSucceedsWithRemoteDown(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteDown(remote)

	project, err := repos.Projects.CreateProject(context.Background(), testSession("u1"), "offline project")
	require.NoError(t, err)

	got, err := local.GetProject(project.Id)
	require.NoError(t, err)
	assert.Equal(t, "offline project", got.Name)
}

func TestInviteMemberPermissions(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{
		"admin":  types.RoleAdmin,
		"member": types.RoleMember,
		"viewer": types.RoleViewer,
	})

	ctx := context.Background()
	invitee := types.User{Id: "new", DisplayName: "new user"}

	// Viewers cannot invite at all.
	_, err := repos.Projects.InviteMember(ctx, testSession("viewer"), "p1", invitee, types.RoleViewer)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	// Members can invite, but never above their own role.
	_, err = repos.Projects.InviteMember(ctx, testSession("member"), "p1", invitee, types.RoleAdmin)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	m, err := repos.Projects.InviteMember(ctx, testSession("member"), "p1", invitee, types.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, types.RoleMember, m.Role)
	assert.Equal(t, "member", m.InviterId)

	// Double invites are rejected.
	_, err = repos.Projects.InviteMember(ctx, testSession("admin"), "p1", invitee, types.RoleMember)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestInvitedMemberCannotPromote(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{"admin": types.RoleAdmin})

	ctx := context.Background()
	_, err := repos.Projects.InviteMember(ctx, testSession("admin"), "p1", types.User{Id: "u2", DisplayName: "two"}, types.RoleMember)
	require.NoError(t, err)
	_, err = repos.Projects.InviteMember(ctx, testSession("admin"), "p1", types.User{Id: "u3", DisplayName: "three"}, types.RoleMember)
	require.NoError(t, err)

	// A member holds no CHANGE_MEMBER_ROLES permission.
	_, err = repos.Projects.ChangeMemberRole(ctx, testSession("u2"), "p1", "u3", types.RoleAdmin)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestChangeMemberRoleLastAdmin(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{
		"admin":  types.RoleAdmin,
		"member": types.RoleMember,
	})

	ctx := context.Background()

	// Demoting the only admin would orphan the project.
	_, err := repos.Projects.ChangeMemberRole(ctx, testSession("admin"), "p1", "admin", types.RoleMember)
	require.Error(t, err)

	// With a second admin the demotion goes through.
	_, err = repos.Projects.ChangeMemberRole(ctx, testSession("admin"), "p1", "member", types.RoleAdmin)
	require.NoError(t, err)
	m, err := repos.Projects.ChangeMemberRole(ctx, testSession("admin"), "p1", "admin", types.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, types.RoleMember, m.Role)
}

func TestRemoveMemberRules(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{
		"admin":   types.RoleAdmin,
		"member":  types.RoleMember,
		"member2": types.RoleMember,
	})

	ctx := context.Background()

	// Members cannot remove others.
	err := repos.Projects.RemoveMember(ctx, testSession("member"), "p1", "member2")
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	// Self-removal is always allowed for non-last-admins.
	require.NoError(t, repos.Projects.RemoveMember(ctx, testSession("member2"), "p1", "member2"))
	_, err = local.GetMember("p1", "member2")
	require.ErrorIs(t, err, localstore.ErrNotFound)

	// The last admin cannot leave.
	err = repos.Projects.RemoveMember(ctx, testSession("admin"), "p1", "admin")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	// Admins remove members.
	require.NoError(t, repos.Projects.RemoveMember(ctx, testSession("admin"), "p1", "member"))
}

func TestSetProjectStatusPermissions(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{
		"admin":  types.RoleAdmin,
		"member": types.RoleMember,
	})

	ctx := context.Background()

	// Archiving is admin-only.
	_, err := repos.Projects.SetProjectStatus(ctx, testSession("member"), "p1", types.ProjectArchived)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	project, err := repos.Projects.SetProjectStatus(ctx, testSession("admin"), "p1", types.ProjectArchived)
	require.NoError(t, err)
	assert.Equal(t, types.ProjectArchived, project.Status)
}

func TestDeleteProjectAdminOnly(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)

	seedProject(t, local, "p1", map[string]types.Role{
		"admin":  types.RoleAdmin,
		"member": types.RoleMember,
	})

	ctx := context.Background()

	err := repos.Projects.DeleteProject(ctx, testSession("member"), "p1")
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	require.NoError(t, repos.Projects.DeleteProject(ctx, testSession("admin"), "p1"))
	_, err = local.GetProject("p1")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestJoinProjectWithInvite(t *testing.T) {
	repos, local, remote := newTestRepos(t)
	remoteUp(remote)
	remote.On("SelectOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errRemoteDown).Maybe()

	seedProject(t, local, "p1", map[string]types.Role{"admin": types.RoleAdmin})

	ctx := context.Background()
	invite, err := repos.Projects.CreateInvite(ctx, testSession("admin"), "p1")
	require.NoError(t, err)
	require.NotEmpty(t, invite.Code)

	require.NoError(t, local.PutUser(types.User{Id: "joiner", DisplayName: "joiner"}))

	m, err := repos.Projects.JoinProject(ctx, testSession("joiner"), invite.Code)
	require.NoError(t, err)
	assert.Equal(t, "p1", m.ProjectId)
	assert.Equal(t, types.RoleMember, m.Role)
}

func TestGetProjectFallsBackToRemote(t *testing.T) {
	repos, _, remote := newTestRepos(t)
	remote.On("SelectOne", mock.Anything, remotestore.TableProjects, "p-remote", mock.Anything).
		Run(func(args mock.Arguments) {
			p := args.Get(3).(*types.Project)
			*p = types.Project{Id: "p-remote", Name: "fetched", Status: types.ProjectActive}
		}).Return(nil)

	project, err := repos.Projects.GetProject(context.Background(), "p-remote")
	require.NoError(t, err)
	assert.Equal(t, "fetched", project.Name)
}
