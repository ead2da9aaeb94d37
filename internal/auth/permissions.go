package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermScriptRead    Permission = "script:read"
	PermScriptManage  Permission = "script:manage"
	PermRunExecute    Permission = "run:execute"
	PermRunCancel     Permission = "run:cancel"
	PermBackgroundOps Permission = "background:operate"
	PermQueueOps      Permission = "queue:operate"
	PermStatusRead    Permission = "status:read"
	PermSystemStop    Permission = "system:stop"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermScriptRead,
		PermStatusRead,
	},
	RoleOperator: {
		PermScriptRead,
		PermStatusRead,
		PermRunExecute,
		PermRunCancel,
		PermBackgroundOps,
		PermQueueOps,
		PermSystemStop,
	},
	RoleAdmin: {
		PermScriptRead,
		PermStatusRead,
		PermRunExecute,
		PermRunCancel,
		PermBackgroundOps,
		PermQueueOps,
		PermSystemStop,
		PermScriptManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
