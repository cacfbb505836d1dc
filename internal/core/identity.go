package core

// Role distinguishes the shared admin side from end users.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// AdminUsername is the single shared admin identity. It is also the
// receiver of every user-authored message.
const AdminUsername = "admin"

// AdminRoom is the sentinel room bound to admin connections. It carries no
// routing meaning; admin routing is always by explicit target username.
const AdminRoom = "admin"

// Identity binds a live connection to a logical participant. A user's room
// is their own username; the private channel with admin is keyed by it.
type Identity struct {
	Username string
	Role     Role
	Room     string
}

// IsAdmin reports whether the identity belongs to the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}
