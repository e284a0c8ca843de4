package accounts

// Role is the account's global role
type Role string

const (
	// RoleUser is a regular account
	RoleUser Role = "user"
	// RoleAdmin manages regular accounts and other admins
	RoleAdmin Role = "admin"
	// RoleSuperAdmin manages every account
	RoleSuperAdmin Role = "superadmin"
)

var roleRanks = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Rank returns the position of the role in the hierarchy. Unknown roles
// rank 0 and are outranked by every known role.
func Rank(r Role) int {
	return roleRanks[r]
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	return Rank(r) > 0
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	if !r.IsValid() || !minRole.IsValid() {
		return false
	}
	return Rank(r) >= Rank(minRole)
}

// Outranks reports whether r sits strictly above other.
func (r Role) Outranks(other Role) bool {
	return Rank(r) > Rank(other)
}

// AssignableRoles lists the roles an account holding r may grant.
// A superadmin grants any role, an admin grants up to admin, users
// grant nothing.
func (r Role) AssignableRoles() []Role {
	switch r {
	case RoleSuperAdmin:
		return GetAllRoles()
	case RoleAdmin:
		return []Role{RoleUser, RoleAdmin}
	default:
		return nil
	}
}

// CanAssign reports whether r may grant target.
func (r Role) CanAssign(target Role) bool {
	for _, role := range r.AssignableRoles() {
		if role == target {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleUser,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}
