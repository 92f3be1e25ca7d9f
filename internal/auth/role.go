package auth

import (
	"fmt"
	"strings"
)

// Role tags an actor kind. The set is closed: see Roles.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleOrganizationAdmin Role = "organizationAdmin"
	RoleSystemAdmin       Role = "systemAdmin"
	RoleNurse             Role = "nurse"
	RolePatient           Role = "patient"
	RoleTechnician        Role = "technician"
	RolePM                Role = "pm"
	RolePMO               Role = "pmo"
	RoleTPM               Role = "tpm"
	RoleDeveloper         Role = "developer"
	RoleQA                Role = "qa"
	RoleDesigner          Role = "designer"
	RoleMember            Role = "member"
	RoleModerator         Role = "moderator"
	RolePremiumUser       Role = "premiumUser"
	RoleRegularUser       Role = "regularUser"
	RoleEventOrganizer    Role = "eventOrganizer"
	RoleHRRecruiter       Role = "hrRecruiter"
	RoleApplicant         Role = "applicant"
	RoleWorkflowManager   Role = "workflowManager"
	RoleEditor            Role = "editor"
	RoleEndUser           Role = "endUser"
)

// Descriptor parameterizes the shared join/login/refresh flow for one role.
type Descriptor struct {
	Role Role
	// TenantScoped roles carry a tenant id in every token and have their
	// data access forced to that tenant.
	TenantScoped bool
	// Administrative roles may use the actor management operations.
	Administrative bool
	Policy         PasswordPolicy
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(string(d.Role)) == "" {
		return fmt.Errorf("%w: role descriptor without role", ErrValidation)
	}
	if d.Policy.MinLength <= 0 {
		return fmt.Errorf("%w: role %s has no password policy", ErrValidation, d.Role)
	}
	return nil
}

// Roles returns the built-in descriptors for every actor kind.
func Roles() []Descriptor {
	policy := DefaultPasswordPolicy()
	global := func(r Role) Descriptor { return Descriptor{Role: r, Policy: policy} }
	tenant := func(r Role) Descriptor { return Descriptor{Role: r, TenantScoped: true, Policy: policy} }

	return []Descriptor{
		{Role: RoleAdmin, Administrative: true, Policy: policy},
		{Role: RoleSystemAdmin, Administrative: true, Policy: policy},
		{Role: RoleOrganizationAdmin, TenantScoped: true, Administrative: true, Policy: policy},
		tenant(RoleNurse),
		global(RolePatient),
		tenant(RoleTechnician),
		tenant(RolePM),
		tenant(RolePMO),
		tenant(RoleTPM),
		tenant(RoleDeveloper),
		tenant(RoleQA),
		tenant(RoleDesigner),
		global(RoleMember),
		global(RoleModerator),
		global(RolePremiumUser),
		global(RoleRegularUser),
		global(RoleEventOrganizer),
		tenant(RoleHRRecruiter),
		global(RoleApplicant),
		tenant(RoleWorkflowManager),
		tenant(RoleEditor),
		tenant(RoleEndUser),
	}
}

// ParseRole matches s against the built-in roles. Matching is case-insensitive
// so /auth/organizationadmin/login and /auth/organizationAdmin/login agree.
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	for _, d := range Roles() {
		if strings.EqualFold(string(d.Role), s) {
			return d.Role, true
		}
	}
	return "", false
}
