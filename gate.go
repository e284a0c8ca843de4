package accounts

import "slices"

// RequireRoles fails with ErrForbidden unless the account holds one of roles.
func RequireRoles(account *Account, roles ...Role) error {
	if account == nil {
		return ErrInvalidSession
	}
	if slices.Contains(roles, account.Role) {
		return nil
	}
	return ErrForbidden
}

// CanManage checks that actor may view or modify target. Only a superadmin
// may touch another superadmin.
func CanManage(actor, target *Account) error {
	if actor == nil {
		return ErrInvalidSession
	}
	if err := RequireRoles(actor, RoleAdmin, RoleSuperAdmin); err != nil {
		return err
	}
	if target != nil && target.Role == RoleSuperAdmin && actor.Role != RoleSuperAdmin {
		return ErrForbidden
	}
	return nil
}

// CanAssignRole checks that actor may grant role.
func CanAssignRole(actor *Account, role Role) error {
	if actor == nil {
		return ErrInvalidSession
	}
	if !role.IsValid() {
		return NewValidationError("validation failed", map[string]string{
			"role": "must be one of user, admin, superadmin",
		})
	}
	if !actor.Role.CanAssign(role) {
		return ErrForbidden
	}
	return nil
}

// CanDelete forbids self deletion regardless of role, then applies CanManage.
func CanDelete(actor, target *Account) error {
	if actor != nil && target != nil && actor.ID == target.ID {
		return ErrSelfDeletion
	}
	return CanManage(actor, target)
}

// ScopeListFilter hides superadmin records from callers below superadmin.
func ScopeListFilter(actor *Account, filter ListFilter) ListFilter {
	if actor != nil && actor.Role == RoleSuperAdmin {
		return filter
	}

	filter.ExcludeRoles = append(slices.Clone(filter.ExcludeRoles), RoleSuperAdmin)
	if len(filter.Roles) > 0 {
		filter.Roles = slices.DeleteFunc(slices.Clone(filter.Roles), func(r Role) bool {
			return r == RoleSuperAdmin
		})
		if len(filter.Roles) == 0 {
			// only superadmins were requested
			filter.Roles = []Role{RoleSuperAdmin}
		}
	}
	return filter
}
