package auth

// Role is the staff role the backend assigns to an account
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleWaiter  Role = "waiter"
	RoleCashier Role = "cashier"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleWaiter, RoleCashier:
		return true
	}
	return false
}

// Dashboard returns the dashboard the role lands on after login.
// Owners and admins share the admin dashboard.
func (r Role) Dashboard() string {
	switch r {
	case RoleOwner, RoleAdmin:
		return "admin"
	case RoleWaiter:
		return "waiter"
	case RoleCashier:
		return "cashier"
	default:
		return ""
	}
}

// Sections lists the screens available to the role
func (r Role) Sections() []string {
	switch r {
	case RoleOwner:
		return []string{"dashboard", "users", "ingredients", "transactions"}
	case RoleAdmin:
		return []string{"dashboard", "transactions"}
	case RoleWaiter:
		return []string{"dashboard", "ingredients", "settings"}
	case RoleCashier:
		return []string{"dashboard", "transactions", "settings"}
	default:
		return nil
	}
}

// CanManageUsers reports whether the role may create, edit and block accounts
func (r Role) CanManageUsers() bool {
	return r == RoleOwner || r == RoleAdmin
}
