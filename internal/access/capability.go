// Package access holds capability checks over resolved organization
// memberships. Resolution itself (roles, permission sets) belongs to the
// directory service; this package only evaluates the result.
package access

import "github.com/orgchat/internal/model"

// Capability slugs understood by the chat core.
const (
	CapCreateGroup   = "chat.create_group"
	CapManageMembers = "chat.manage_members"
)

const orgRoleOwner = "owner"

// HasCapability reports whether the member may perform the given action.
// Precedence: organization owners always pass; otherwise the capability
// slug must appear in the member's resolved permission set.
func HasCapability(m model.OrgMember, capability string) bool {
	if m.Role == orgRoleOwner {
		return true
	}
	for _, p := range m.Permissions {
		if p == capability {
			return true
		}
	}
	return false
}
