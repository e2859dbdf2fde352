package scan

import (
	"errors"
	"fmt"
)

// ErrStudentNotFound is returned by StudentDirectory.Resolve when the token
// does not map to any student. It is an input condition, not a system error:
// the session turns it into a structured denial.
var ErrStudentNotFound = errors.New("student not found")

// ErrInvalidAction rejects a scan request whose service/subtype tags do not
// form a valid pairing. This is a malformed request, not a student denial:
// nothing is written to the ledger.
var ErrInvalidAction = errors.New("invalid scan action")

// ErrBusUnavailable is returned by BusOccupancy.TryIncrement when the bus
// exists but is not in active service (maintenance, out_of_service). The
// session surfaces it as a bus_unavailable denial, distinct from capacity.
var ErrBusUnavailable = errors.New("bus not in active service")

// SystemError marks infrastructure failures: directory timeouts, ledger
// write failures. A scan that hits one is unresolved — it must be retried,
// never surfaced as "access denied", and is not recorded in the ledger.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string { return fmt.Sprintf("scan: %s: %v", e.Op, e.Err) }
func (e *SystemError) Unwrap() error { return e.Err }

func systemErr(op string, err error) error {
	return &SystemError{Op: op, Err: err}
}

// IsSystem reports whether err originates from collaborator infrastructure
// rather than from the decision logic.
func IsSystem(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}
