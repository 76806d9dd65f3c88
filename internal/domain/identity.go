package domain

// Role is the caller's role as asserted by the authentication subsystem.
type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleAgent     Role = "AGENT"
	RoleAdmin     Role = "ADMIN"
)

// Staff reports whether the role works tickets rather than files them.
func (r Role) Staff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Identity is the authenticated caller.
type Identity struct {
	ID   string
	Name string
	Role Role
}
