// Package authz maps the role names the backend assigns to dashboard users
// onto role and permission masks.
package authz

import "strings"

type PermissionMask uint64

type RoleMask uint64

const (
	PermissionViewCampaigns PermissionMask = 1 << iota
	PermissionEditCampaigns
	PermissionViewFinance
	PermissionManageSettings
)

const (
	RoleViewer RoleMask = 1 << iota
	RoleEditor
	RoleManager
	RoleAdmin
)

var roleNames = map[string]RoleMask{
	"viewer":  RoleViewer,
	"editor":  RoleEditor,
	"manager": RoleManager,
	"admin":   RoleAdmin,
}

var RolePermissionMatrix = map[RoleMask]PermissionMask{
	RoleViewer:  PermissionViewCampaigns,
	RoleEditor:  PermissionViewCampaigns | PermissionEditCampaigns,
	RoleManager: PermissionViewCampaigns | PermissionEditCampaigns | PermissionViewFinance,
	RoleAdmin:   PermissionViewCampaigns | PermissionEditCampaigns | PermissionViewFinance | PermissionManageSettings,
}

// RoleMaskFor folds role names into a mask. Unknown names are ignored.
func RoleMaskFor(names ...string) RoleMask {
	var mask RoleMask
	for _, name := range names {
		mask |= roleNames[strings.ToLower(strings.TrimSpace(name))]
	}
	return mask
}

func EffectivePermissions(roleMask RoleMask, direct PermissionMask) PermissionMask {
	effective := direct

	for role, perms := range RolePermissionMatrix {
		if roleMask&role != 0 {
			effective |= perms
		}
	}

	return effective
}

func HasAnyPermissions(current PermissionMask, required PermissionMask) bool {
	return current&required != 0
}

func HasAllPermissions(current PermissionMask, required PermissionMask) bool {
	return current&required == required
}

var permissionNames = []struct {
	mask PermissionMask
	name string
}{
	{PermissionViewCampaigns, "view_campaigns"},
	{PermissionEditCampaigns, "edit_campaigns"},
	{PermissionViewFinance, "view_finance"},
	{PermissionManageSettings, "manage_settings"},
}

// Names lists the permissions set in p in bit order.
func (p PermissionMask) Names() []string {
	names := []string{}
	for _, entry := range permissionNames {
		if p&entry.mask != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}
