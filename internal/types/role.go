package types

// Role is a project member's role. Roles form a strict hierarchy:
// ADMIN > MEMBER > VIEWER.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

var roleRanks = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
}

// Rank returns the role's position in the hierarchy, higher meaning more
// privileged. Unknown roles rank below every known role.
func (r Role) Rank() int {
	return roleRanks[r]
}

func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Outranks reports whether r is strictly higher in the hierarchy than other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}
