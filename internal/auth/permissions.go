package auth

// Role represents an authorisation tier.
type Role string

// Roles, lowest first.
const (
	// RoleViewer may read bridge status, devices and history.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally force reconnects.
	RoleOperator Role = "operator"

	// RoleAdmin may additionally change the log level at runtime.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermBridgeRead    Permission = "bridge:read"
	PermBridgeOperate Permission = "bridge:operate"
	PermSystemAdmin   Permission = "system:admin"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermBridgeRead,
	},
	RoleOperator: {
		PermBridgeRead,
		PermBridgeOperate,
	},
	RoleAdmin: {
		PermBridgeRead,
		PermBridgeOperate,
		PermSystemAdmin,
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
