package models

// Role is a permission level carried in access tokens.
type Role = string

const (
	// RoleAdmin may run every operation
	RoleAdmin Role = "admin"
	// RoleOperator may deploy, modify and delete chains
	RoleOperator Role = "operator"
	// RoleViewer may only read
	RoleViewer Role = "viewer"
)

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}
