package pool

import "errors"

// Admission errors. These are local decisions returned to the caller and are
// never retried inside the pool; callers distinguish configuration mistakes
// (NotFound) from transient load issues (Unavailable, NoAccounts).
var (
	ErrAccountNotFound    = errors.New("pool: account not found")
	ErrAccountUnavailable = errors.New("pool: account temporarily unavailable")
	ErrNoAccounts         = errors.New("pool: no available accounts")
)
