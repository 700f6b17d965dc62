package quota

import "time"

// Tier represents the quota class of an authenticated account.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// IdentityKind discriminates Identity variants.
type IdentityKind string

const (
	IdentityAnonymous     IdentityKind = "anonymous"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// Identity classifies a request for admission. It is derived once per request
// from connection metadata and an optional bearer credential and is immutable
// for the request's lifetime.
type Identity struct {
	Kind      IdentityKind
	IP        string
	AccountID string
	Name      string
	Tier      Tier
}

// Anonymous returns an identity for an unauthenticated client.
func Anonymous(ip string) Identity {
	return Identity{Kind: IdentityAnonymous, IP: ip}
}

// Authenticated returns an identity for a logged-in account.
func Authenticated(accountID string, tier Tier) Identity {
	return Identity{Kind: IdentityAuthenticated, AccountID: accountID, Tier: tier}
}

// IsAnonymous reports whether the identity is the anonymous variant.
func (i Identity) IsAnonymous() bool {
	return i.Kind == IdentityAnonymous
}

// TierLabel returns the metric label for the identity's tier.
func (i Identity) TierLabel() string {
	if i.IsAnonymous() {
		return "anonymous"
	}
	return string(i.Tier)
}

// LimitKind names which counter produced a decision.
type LimitKind string

const (
	LimitIPBased   LimitKind = "ip_based"
	LimitUserBased LimitKind = "user_based"
	LimitNone      LimitKind = "none"
)

// DenyReason is the machine-readable reason attached to a denial.
type DenyReason string

const (
	ReasonRequiresAuth    DenyReason = "requires_auth"
	ReasonRequiresPayment DenyReason = "requires_payment"
)

// Decision is the pure output of an admission check. It is never persisted.
type Decision struct {
	Admitted  bool
	Unlimited bool
	Remaining int
	Limit     int
	Used      int
	Requested int
	LimitKind LimitKind
	Reason    DenyReason
	// FailedOpen marks an admission granted because the backing counter was
	// unreachable, not because quota was verified.
	FailedOpen bool
	// ResetAt is the next counter reset, set for IP-based decisions only.
	ResetAt time.Time
}

// Usage is a local store counter snapshot for one IP window.
type Usage struct {
	Admitted bool
	// Used is the counter value after the acquire, or the current value for
	// read-only lookups.
	Used      int
	Remaining int
	ResetAt   time.Time
}

// AccountSnapshot is the remote-owned per-account counter, read once per
// request. It is never cached across requests: the account service is the
// single source of truth for authenticated usage.
type AccountSnapshot struct {
	AccountID string
	Used      int
	Limit     int
	Tier      Tier
}
