package enums

// UserRole identifies the access level carried in an access token.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleStaff UserRole = "staff"
)

func (r UserRole) String() string {
	return string(r)
}

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleStaff:
		return true
	default:
		return false
	}
}

// ParseUserRole converts raw input into a UserRole when valid.
func ParseUserRole(raw string) (UserRole, bool) {
	role := UserRole(raw)
	if role.IsValid() {
		return role, true
	}
	return "", false
}
