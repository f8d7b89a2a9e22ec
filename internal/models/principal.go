package models

// AuthMethod names the strategy that produced a Principal
type AuthMethod string

const (
	AuthMethodPassword  AuthMethod = "password"
	AuthMethodBearer    AuthMethod = "bearer"
	AuthMethodFederated AuthMethod = "federated"
	AuthMethodSession   AuthMethod = "session"
)

// Principal is the verified identity a request acts as
type Principal struct {
	UserID        string
	Username      string
	Email         string
	Role          string
	EmailVerified bool
	MFAEnabled    bool
	Method        AuthMethod
	SessionID     string // Empty for bearer-token principals
}

// NewPrincipal projects a user record into a Principal
func NewPrincipal(user *User, method AuthMethod) *Principal {
	return &Principal{
		UserID:        user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		MFAEnabled:    user.TOTPEnabled(),
		Method:        method,
	}
}

// HasRole reports whether the principal carries the given role
func (p *Principal) HasRole(role string) bool {
	return p != nil && p.Role == role
}
