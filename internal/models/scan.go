package models

import "time"

type ScanSubtype string

const (
	ScanBoarding  ScanSubtype = "boarding"
	ScanAlighting ScanSubtype = "alighting"
	ScanEntry     ScanSubtype = "entry"
)

type DenyReason string

const (
	DenyStudentNotFound     DenyReason = "student_not_found"
	DenyStudentInactive     DenyReason = "student_inactive"
	DenyNotEnrolled         DenyReason = "not_enrolled"
	DenySubscriptionExpired DenyReason = "subscription_expired"
	DenyBusAtCapacity       DenyReason = "bus_at_capacity"
	DenyBusUnavailable      DenyReason = "bus_unavailable"
	DenyInvalidScanSequence DenyReason = "invalid_scan_sequence"
)

type WarningCode string

const (
	WarnPaymentPending      WarningCode = "payment_pending"
	WarnAlreadyScannedToday WarningCode = "already_scanned_today"
	WarnSpecialDiet         WarningCode = "special_diet"
)

// Warning is attached to a granted result; Detail carries operator-facing
// text such as allergy lists for special-diet students.
type Warning struct {
	Code   WarningCode `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

// ScanAction is everything the operator surface knows about one scan
// besides the QR token itself.
type ScanAction struct {
	Service  ServiceType `json:"service"`
	Subtype  ScanSubtype `json:"subtype"`
	BusID    string      `json:"bus_id,omitempty"`
	Location string      `json:"location"`
}

type Operator struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ScanEvent is the immutable ledger record of one scan attempt.
// StudentID is nil when token resolution failed.
type ScanEvent struct {
	ID         string      `db:"id"`
	Token      string      `db:"qr_token"`
	StudentID  *int64      `db:"student_id"`
	Service    ServiceType `db:"service"`
	Subtype    ScanSubtype `db:"subtype"`
	BusID      string      `db:"bus_id"`
	Location   string      `db:"location"`
	OperatorID int64       `db:"operator_id"`
	At         time.Time   `db:"scanned_at"`
	Granted    bool        `db:"granted"`
	DenyReason DenyReason  `db:"deny_reason"`
	Warnings   []Warning
}

// ScanResult is what the operator surface renders: the decision, the reason
// when denied, and snapshots of the student and enrollment when resolved.
type ScanResult struct {
	Granted    bool               `json:"access_granted"`
	DenyReason DenyReason         `json:"deny_reason,omitempty"`
	Warnings   []Warning          `json:"warnings,omitempty"`
	Student    *Student           `json:"student,omitempty"`
	Enrollment *ServiceEnrollment `json:"enrollment,omitempty"`
	Event      *ScanEvent         `json:"-"`
}

func (r ScanResult) HasWarning(code WarningCode) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
