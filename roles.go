package auth

// UserRole is the account role tag
type UserRole = string

const (
	// RoleStudent submits proposals and event reports
	RoleStudent UserRole = "student"
	// RoleClub is a community organizer submitting on behalf of a club
	RoleClub UserRole = "club"
	// RoleFaculty reviews proposals and reports
	RoleFaculty UserRole = "faculty"
	// RoleAdmin approves accounts and manages everything else
	RoleAdmin UserRole = "admin"
)

// IsValidRole checks if the role is one of the predefined roles
func IsValidRole(r UserRole) bool {
	switch r {
	case RoleStudent, RoleClub, RoleFaculty, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if role meets the minimum required level
func IsAtLeast(role, minRole UserRole) bool {
	roleHierarchy := map[UserRole]int{
		RoleStudent: 0,
		RoleClub:    1,
		RoleFaculty: 2,
		RoleAdmin:   3,
	}

	currentLevel, exists := roleHierarchy[role]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleStudent,
		RoleClub,
		RoleFaculty,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, IsValidRole(role)
}
