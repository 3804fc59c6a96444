package auth

// Role is the coarse permission level carried in a token. Viewer reads
// status, operator manages overrides and safe mode, admin covers both plus
// future administrative surfaces.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a raw claim value onto a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	_, ok := roleRanks[role]
	if !ok {
		return "", false
	}
	return role, ok
}

// RoleAtLeast reports whether role meets the required level. Unknown roles
// rank below viewer.
func RoleAtLeast(role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
