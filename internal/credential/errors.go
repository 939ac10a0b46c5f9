package credential

import (
	"errors"
	"fmt"
)

// ErrExpired is returned when an account's configured expiry has passed.
var ErrExpired = errors.New("credential: account expired")

// ErrRefreshFailed wraps token issuance failures that are not HTTP-classified.
var ErrRefreshFailed = errors.New("credential: token refresh failed")

// UpstreamError is an HTTP-classified failure from the upstream service. The
// pool classifies outcomes purely by status code; everything else about the
// response stays opaque.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Detail)
}

// HTTPStatus extracts the status code from an error chain. ok is false for
// non-HTTP failures (network errors, parse errors).
func HTTPStatus(err error) (int, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode, true
	}
	return 0, false
}
