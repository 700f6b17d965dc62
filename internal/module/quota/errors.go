package quota

import "errors"

var (
	// ErrStoreUnavailable reports a local store outage, distinct from a
	// quota-exceeded denial. The engine applies the configured
	// fail-open/fail-closed policy when it sees this.
	ErrStoreUnavailable = errors.New("quota store unavailable")

	// ErrAccountUnavailable reports that the account service could not be
	// reached. Always handled fail-open by the engine.
	ErrAccountUnavailable = errors.New("account service unavailable")

	// ErrAccountNotFound means the account service has no record for the
	// account. Treated as a new account with zero uploads.
	ErrAccountNotFound = errors.New("account not found")
)
