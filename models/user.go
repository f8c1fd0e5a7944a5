package models

// UserRole - represents user role
type UserRole string

// user roles, from least to most capable
const (
	RoleAnonymous = UserRole("anonymous")
	RoleAuthor    = UserRole("author")
	RoleAdmin     = UserRole("admin")
)

var roleRanks = map[UserRole]int{
	RoleAnonymous: 0,
	RoleAuthor:    1,
	RoleAdmin:     2,
}

// Allows - reports whether role has at least the capability of required
func (r UserRole) Allows(required UserRole) bool {
	return roleRanks[r] >= roleRanks[required]
}

// Account - configured user able to log in. PasswordHash is a bcrypt hash
type Account struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Role         UserRole `mapstructure:"role"`
}

// LoginRequest - represents credentials that user inputs on login page.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
