package ctxutil

import (
	"context"
	"time"
)

// Collaborator I/O (directory, ledger, occupancy) must never block a scan
// indefinitely; a deadline hit is a system error, not a denial.
var (
	DefaultCollaboratorTimeout = 5 * time.Second
)

// WithTimeout wraps context.WithTimeout, degrading to WithCancel for d<=0.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// WithCollaboratorTimeout applies the standard collaborator deadline, keeping
// the parent's tighter deadline when one is already set.
func WithCollaboratorTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := parent.Deadline(); ok {
		remain := time.Until(dl)
		if remain < DefaultCollaboratorTimeout {
			return context.WithTimeout(parent, remain)
		}
	}
	return context.WithTimeout(parent, DefaultCollaboratorTimeout)
}
