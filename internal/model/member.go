package model

// RosterMember is a chat participant as resolved by the organization
// directory: identity plus the name fields mention matching runs against.
type RosterMember struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName returns "first last" trimmed of extra spaces.
func (m RosterMember) FullName() string {
	switch {
	case m.FirstName == "":
		return m.LastName
	case m.LastName == "":
		return m.FirstName
	default:
		return m.FirstName + " " + m.LastName
	}
}

// OrgMember is the caller's resolved organization membership, as returned by
// the directory collaborator. Permissions are slugs already resolved from
// the member's role.
type OrgMember struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	Role           string   `json:"role"`
	Permissions    []string `json:"permissions"`
	RosterMember
}
