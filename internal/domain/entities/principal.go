package entities

// PrincipalKind distinguishes authenticated accounts from anonymous devices
type PrincipalKind string

const (
	PrincipalAccount   PrincipalKind = "account"
	PrincipalAnonymous PrincipalKind = "anonymous"
)

// Principal is the opaque identity a request acts as: an authenticated
// account identifier or an anonymous fingerprint hash. It scopes which
// conversations are visible and keys usage quotas and delivery sessions.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	Key  string        `json:"key"`
}

// NewAccountPrincipal creates a principal for an authenticated account
func NewAccountPrincipal(accountID string) Principal {
	return Principal{Kind: PrincipalAccount, Key: accountID}
}

// NewAnonymousPrincipal creates a principal for an anonymous fingerprint
func NewAnonymousPrincipal(fingerprint string) Principal {
	return Principal{Kind: PrincipalAnonymous, Key: fingerprint}
}

// IsAnonymous returns true for fingerprint-identified principals
func (p Principal) IsAnonymous() bool {
	return p.Kind == PrincipalAnonymous
}

// IsZero reports whether the principal is unset
func (p Principal) IsZero() bool {
	return p.Kind == "" && p.Key == ""
}
