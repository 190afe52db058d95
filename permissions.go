package auth

import (
	"fmt"
	"slices"
)

// Capabilities used by the proposal workflow routes.
const (
	CapProposalCreate  = "proposal:create"
	CapProposalSubmit  = "proposal:submit"
	CapProposalReadOwn = "proposal:read:own"
	CapProposalReadAll = "proposal:read:all"
	CapProposalReview  = "proposal:review"
	CapProposalDecide  = "proposal:decide"
	CapReportSubmit    = "report:submit"
	CapReportReview    = "report:review"
	CapClubManage      = "club:manage"
	CapUserApprove     = "user:approve"
	CapUserManage      = "user:manage"
	CapAuditRead       = "audit:read"
)

// RolePermission is one row of the role-permission table.
type RolePermission struct {
	Role         UserRole `json:"role" mapstructure:"role"`
	LandingRoute string   `json:"landing_route" mapstructure:"landing_route"`
	Capabilities []string `json:"capabilities" mapstructure:"capabilities"`
	// AutoApprove marks roles whose administrator-created accounts start approved.
	AutoApprove bool `json:"auto_approve" mapstructure:"auto_approve"`
}

// PermissionMap translates a role into its landing route and capabilities.
// It is built once and never mutated afterwards.
type PermissionMap struct {
	entries map[UserRole]RolePermission
}

// DefaultPermissions returns the stock table for the proposal workflow.
func DefaultPermissions() []RolePermission {
	return []RolePermission{
		{
			Role:         RoleStudent,
			LandingRoute: "/student/dashboard",
			Capabilities: []string{CapProposalCreate, CapProposalSubmit, CapProposalReadOwn, CapReportSubmit},
		},
		{
			Role:         RoleClub,
			LandingRoute: "/club/dashboard",
			Capabilities: []string{CapProposalCreate, CapProposalSubmit, CapProposalReadOwn, CapReportSubmit, CapClubManage},
		},
		{
			Role:         RoleFaculty,
			LandingRoute: "/faculty/reviews",
			Capabilities: []string{CapProposalReadAll, CapProposalReview, CapProposalDecide, CapReportReview},
			AutoApprove:  true,
		},
		{
			Role:         RoleAdmin,
			LandingRoute: "/admin/overview",
			Capabilities: []string{
				CapProposalReadAll, CapProposalReview, CapProposalDecide, CapReportReview,
				CapClubManage, CapUserApprove, CapUserManage, CapAuditRead,
			},
			AutoApprove: true,
		},
	}
}

// NewPermissionMap builds a map from entries. Every known role must appear
// exactly once and no unknown role may appear.
func NewPermissionMap(entries []RolePermission) (*PermissionMap, error) {
	m := &PermissionMap{entries: make(map[UserRole]RolePermission, len(entries))}

	for _, e := range entries {
		if !IsValidRole(e.Role) {
			return nil, fmt.Errorf("%w: unknown role %q in permission map", ErrConfiguration, e.Role)
		}
		if _, dup := m.entries[e.Role]; dup {
			return nil, fmt.Errorf("%w: duplicate permission entry for role %q", ErrConfiguration, e.Role)
		}
		e.Capabilities = slices.Clone(e.Capabilities)
		m.entries[e.Role] = e
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// MustPermissionMap is NewPermissionMap that panics on error.
func MustPermissionMap(entries []RolePermission) *PermissionMap {
	m, err := NewPermissionMap(entries)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate checks that every role has an entry.
func (m *PermissionMap) Validate() error {
	for _, role := range GetAllRoles() {
		if _, ok := m.entries[role]; !ok {
			return fmt.Errorf("%w: missing permission entry for role %q", ErrConfiguration, role)
		}
	}
	return nil
}

// Lookup returns the entry for role.
func (m *PermissionMap) Lookup(role UserRole) (RolePermission, bool) {
	if m == nil {
		return RolePermission{}, false
	}
	e, ok := m.entries[role]
	if !ok {
		return RolePermission{}, false
	}
	e.Capabilities = slices.Clone(e.Capabilities)
	return e, true
}

// Can reports whether role holds capability.
func (m *PermissionMap) Can(role UserRole, capability string) bool {
	if m == nil {
		return false
	}
	e, ok := m.entries[role]
	if !ok {
		return false
	}
	return slices.Contains(e.Capabilities, capability)
}

// LandingRoute returns the default route for role, or "/" when unknown.
func (m *PermissionMap) LandingRoute(role UserRole) string {
	if e, ok := m.Lookup(role); ok && e.LandingRoute != "" {
		return e.LandingRoute
	}
	return "/"
}

// AutoApprove reports whether administrator-created accounts of role start approved.
func (m *PermissionMap) AutoApprove(role UserRole) bool {
	e, ok := m.Lookup(role)
	return ok && e.AutoApprove
}
