package credential

import (
	"context"
	"time"

	"github.com/polyrelay/polyrelay/internal/models"
)

// AcquireResult is the outcome of a full credential acquisition run.
type AcquireResult struct {
	Success bool
	Config  models.AccountConfig
	Err     string
}

// Acquirer runs the browser-driven flow that produces fresh credential
// material for an account. Implementations live outside this module; the
// pool only schedules the work on a worker and consumes the result.
// Cancellation through ctx must release any held OS resources promptly.
type Acquirer interface {
	Acquire(ctx context.Context, accountID string, inbox InboxClient) (AcquireResult, error)
}

// InboxClient polls a mail provider for a verification code. Implementations
// exist per provider (IMAP, Graph, HTTP inboxes) outside this module.
type InboxClient interface {
	PollForCode(ctx context.Context, timeout, interval time.Duration, since time.Time) (string, error)
}
