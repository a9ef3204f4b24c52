package permissions

import (
	"fmt"

	"github.com/syncdesk/syncdesk/internal/types"
)

type Permission string

const (
	EditProject       Permission = "edit_project"
	DeleteProject     Permission = "delete_project"
	ArchiveProject    Permission = "archive_project"
	InviteMembers     Permission = "invite_members"
	RemoveMembers     Permission = "remove_members"
	ChangeMemberRoles Permission = "change_member_roles"
)

// rolePermissions maps each role to its fixed permission set. Permission
// sets are monotonic in the role hierarchy: everything a lower role may do,
// a higher role may do as well.
var rolePermissions = map[types.Role]map[Permission]struct{}{
	types.RoleViewer: {},
	types.RoleMember: {
		InviteMembers: {},
	},
	types.RoleAdmin: {
		EditProject:       {},
		DeleteProject:     {},
		ArchiveProject:    {},
		InviteMembers:     {},
		RemoveMembers:     {},
		ChangeMemberRoles: {},
	},
}

// Decision is the outcome of a permission check. Denied decisions carry a
// human-readable reason; they are expected outcomes, not errors.
type Decision struct {
	Granted bool
	Reason  string
}

func granted() Decision {
	return Decision{Granted: true}
}

func denied(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// HasPermission decides whether the member may exercise the permission.
// It is pure: no I/O, deterministic for a given input.
func HasPermission(member types.ProjectMember, perm Permission) Decision {
	if !member.Role.Valid() {
		return denied("unknown role %q", member.Role)
	}

	if _, ok := rolePermissions[member.Role][perm]; !ok {
		return denied("role %q is not allowed to %s", member.Role, perm)
	}

	return granted()
}

// CanRemoveMember decides whether a member holding removerRole may remove a
// member holding targetRole. Removal is allowed only for equal-or-lower
// ranked targets. Self-removal is decided by the caller before rank rules
// apply, since leaving a project is always permitted subject to the
// last-admin invariant.
func CanRemoveMember(removerRole, targetRole types.Role) Decision {
	if !removerRole.Valid() {
		return denied("unknown role %q", removerRole)
	}
	if !targetRole.Valid() {
		return denied("unknown role %q", targetRole)
	}

	if targetRole.Outranks(removerRole) {
		return denied("a %s cannot remove a %s", removerRole, targetRole)
	}

	return granted()
}

// CanChangeRole decides whether a member holding changerRole may change a
// member from targetRole to newRole. The rank-ordering rule applies to both
// the target's current role and the requested one: a changer can neither
// act on a higher-ranked member nor grant a rank above their own.
func CanChangeRole(changerRole, targetRole, newRole types.Role) Decision {
	if !changerRole.Valid() {
		return denied("unknown role %q", changerRole)
	}
	if !targetRole.Valid() {
		return denied("unknown role %q", targetRole)
	}
	if !newRole.Valid() {
		return denied("unknown role %q", newRole)
	}

	if targetRole.Outranks(changerRole) {
		return denied("a %s cannot change the role of a %s", changerRole, targetRole)
	}
	if newRole.Outranks(changerRole) {
		return denied("a %s cannot grant the %s role", changerRole, newRole)
	}

	return granted()
}

// CanRemoveWithoutBreakingProject rejects a removal that would leave the
// project with no admin. members is the project's current membership
// snapshot; target is the member to be removed.
func CanRemoveWithoutBreakingProject(members []types.ProjectMember, target types.ProjectMember) Decision {
	if target.Role != types.RoleAdmin {
		return granted()
	}

	var admins int
	for _, m := range members {
		if m.Role == types.RoleAdmin {
			admins++
		}
	}

	if admins <= 1 {
		return denied("project must retain at least one admin")
	}

	return granted()
}
