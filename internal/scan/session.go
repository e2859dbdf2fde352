package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Spok95/school-attendance/internal/ctxutil"
	"github.com/Spok95/school-attendance/internal/metrics"
	"github.com/Spok95/school-attendance/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StudentDirectory resolves QR tokens to students and serves enrollment
// records. Resolve returns ErrStudentNotFound for an unknown token; any other
// error is infrastructure. Enrollment returns (nil, nil) when the student is
// not enrolled in the service.
type StudentDirectory interface {
	Resolve(ctx context.Context, token string) (*models.Student, error)
	Enrollment(ctx context.Context, studentID int64, service models.ServiceType) (*models.ServiceEnrollment, error)
}

// AttendanceLedger is the append-only record of scan attempts. The read
// methods consult granted entries only.
type AttendanceLedger interface {
	HasEntryToday(ctx context.Context, studentID int64, service models.ServiceType) (bool, error)
	// LastTransportState returns the subtype of the student's last granted
	// transport scan on the bus today, or "" when there is none.
	LastTransportState(ctx context.Context, studentID int64, busID string) (models.ScanSubtype, error)
	Append(ctx context.Context, ev models.ScanEvent) error
}

// BusOccupancy owns the per-bus seat counter. TryIncrement is atomic: it
// succeeds only while occupancy stays below capacity, and returns
// ErrBusUnavailable when the bus is not in active service.
type BusOccupancy interface {
	TryIncrement(ctx context.Context, busID string) (bool, error)
	Decrement(ctx context.Context, busID string) error
}

// Notifier is told about granted scans after they are in the ledger.
// Implementations must not block the scan path.
type Notifier interface {
	ScanAccepted(ev models.ScanEvent, st models.Student)
}

// Session turns one decoded QR token plus a requested action into a single
// authoritative grant/deny decision, serializing concurrent scans for the
// same (student, service) pair.
type Session struct {
	dir     StudentDirectory
	ledger  AttendanceLedger
	buses   BusOccupancy
	notify  Notifier
	log     *zap.Logger
	limiter *keyedLimiter
	now     func() time.Time
}

func NewSession(dir StudentDirectory, ledger AttendanceLedger, buses BusOccupancy, log *zap.Logger) *Session {
	return &Session{
		dir:     dir,
		ledger:  ledger,
		buses:   buses,
		log:     log,
		limiter: newKeyedLimiter(),
		now:     time.Now,
	}
}

// WithNotifier attaches an optional post-scan notifier.
func (s *Session) WithNotifier(n Notifier) *Session {
	s.notify = n
	return s
}

// Evaluate runs the full validation chain for one scan. Denials come back as
// a ScanResult with Granted=false and a reason; a non-nil error is always a
// SystemError and means the scan is unresolved and should be retried.
func (s *Session) Evaluate(ctx context.Context, token string, action models.ScanAction, op models.Operator) (models.ScanResult, error) {
	if err := validateAction(action); err != nil {
		return models.ScanResult{}, err
	}

	rctx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
	st, err := s.dir.Resolve(rctx, token)
	cancel()
	if errors.Is(err, ErrStudentNotFound) {
		return s.deny(ctx, token, nil, action, op, models.DenyStudentNotFound)
	}
	if err != nil {
		return models.ScanResult{}, systemErr("directory resolve", err)
	}
	if !st.IsActive {
		return s.deny(ctx, token, st, action, op, models.DenyStudentInactive)
	}

	// Duplicate and sequence checks below are read-then-write over the
	// ledger; they are only correct under per-(student,service) exclusion.
	unlock := s.limiter.lock(st.ID, action.Service)
	defer unlock()

	ectx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
	enr, err := s.dir.Enrollment(ectx, st.ID, action.Service)
	cancel()
	if err != nil {
		return models.ScanResult{}, systemErr("enrollment lookup", err)
	}

	elig := EvaluateEligibility(enr)
	if !elig.Granted {
		return s.deny(ctx, token, st, action, op, elig.DenyReason)
	}
	warnings := elig.Warnings

	if action.Service == models.ServiceTransport {
		return s.evaluateTransport(ctx, token, st, enr, action, op, warnings)
	}
	return s.evaluateLunch(ctx, token, st, enr, action, op, warnings)
}

// validateAction rejects service/subtype pairings outside the closed set
// before any collaborator is touched. A typo'd service must not slide into
// the lunch path, and a transport scan must be boarding or alighting so the
// sequence and capacity checks always apply.
func validateAction(a models.ScanAction) error {
	switch a.Service {
	case models.ServiceTransport:
		if a.Subtype != models.ScanBoarding && a.Subtype != models.ScanAlighting {
			return fmt.Errorf("%w: subtype %q is not a transport scan", ErrInvalidAction, a.Subtype)
		}
	case models.ServiceLunch:
		if a.Subtype != models.ScanEntry {
			return fmt.Errorf("%w: subtype %q is not a lunch scan", ErrInvalidAction, a.Subtype)
		}
	default:
		return fmt.Errorf("%w: unknown service %q", ErrInvalidAction, a.Service)
	}
	return nil
}

func (s *Session) evaluateTransport(ctx context.Context, token string, st *models.Student, enr *models.ServiceEnrollment, action models.ScanAction, op models.Operator, warnings []models.Warning) (models.ScanResult, error) {
	busID := action.BusID
	if busID == "" && enr.Transport != nil {
		busID = enr.Transport.BusID
	}
	action.BusID = busID

	lctx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
	last, err := s.ledger.LastTransportState(lctx, st.ID, busID)
	cancel()
	if err != nil {
		return models.ScanResult{}, systemErr("ledger last state", err)
	}

	// Boarding and alighting must alternate per bus per day: a second tap on
	// boarding, or an alighting with no unmatched boarding, is rejected.
	switch action.Subtype {
	case models.ScanBoarding:
		if last == models.ScanBoarding {
			return s.deny(ctx, token, st, action, op, models.DenyInvalidScanSequence)
		}
	case models.ScanAlighting:
		if last != models.ScanBoarding {
			return s.deny(ctx, token, st, action, op, models.DenyInvalidScanSequence)
		}
	}

	incremented := false
	if action.Subtype == models.ScanBoarding {
		octx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
		ok, err := s.buses.TryIncrement(octx, busID)
		cancel()
		if errors.Is(err, ErrBusUnavailable) {
			return s.deny(ctx, token, st, action, op, models.DenyBusUnavailable)
		}
		if err != nil {
			return models.ScanResult{}, systemErr("occupancy increment", err)
		}
		if !ok {
			return s.deny(ctx, token, st, action, op, models.DenyBusAtCapacity)
		}
		incremented = true
	}

	res, err := s.accept(ctx, token, st, enr, action, op, warnings)
	if err != nil {
		if incremented {
			s.rollbackIncrement(ctx, busID)
		}
		return models.ScanResult{}, err
	}
	if action.Subtype == models.ScanAlighting {
		dctx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
		if derr := s.buses.Decrement(dctx, busID); derr != nil {
			s.log.Error("occupancy decrement failed", zap.String("bus_id", busID), zap.Error(derr))
		}
		cancel()
	}
	return res, nil
}

func (s *Session) evaluateLunch(ctx context.Context, token string, st *models.Student, enr *models.ServiceEnrollment, action models.ScanAction, op models.Operator, warnings []models.Warning) (models.ScanResult, error) {
	hctx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
	seen, err := s.ledger.HasEntryToday(hctx, st.ID, action.Service)
	cancel()
	if err != nil {
		return models.ScanResult{}, systemErr("ledger duplicate check", err)
	}
	// A repeat lunch scan is accepted with a warning: the student is already
	// authorized, staff just needs visibility.
	if seen {
		warnings = append(warnings, models.Warning{Code: models.WarnAlreadyScannedToday})
	}
	return s.accept(ctx, token, st, enr, action, op, warnings)
}

func (s *Session) accept(ctx context.Context, token string, st *models.Student, enr *models.ServiceEnrollment, action models.ScanAction, op models.Operator, warnings []models.Warning) (models.ScanResult, error) {
	ev := s.newEvent(token, st, action, op)
	ev.Granted = true
	ev.Warnings = warnings

	t0 := s.now()
	actx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
	err := s.ledger.Append(actx, ev)
	cancel()
	if err != nil {
		return models.ScanResult{}, systemErr("ledger append", err)
	}
	metrics.ObserveLedgerWrite(s.now().Sub(t0))
	metrics.ScanObserved(string(action.Service), "granted")
	for _, w := range warnings {
		metrics.ScanWarning(string(w.Code))
	}

	s.log.Info("scan granted",
		zap.String("admission_no", st.AdmissionNo),
		zap.String("service", string(action.Service)),
		zap.String("subtype", string(action.Subtype)),
		zap.Int("warnings", len(warnings)),
	)
	if s.notify != nil {
		go s.notify.ScanAccepted(ev, *st)
	}

	stCopy := *st
	enrCopy := *enr
	return models.ScanResult{
		Granted:    true,
		Warnings:   warnings,
		Student:    &stCopy,
		Enrollment: &enrCopy,
		Event:      &ev,
	}, nil
}

// deny records the denied attempt and returns the structured result. Ledger
// failure while recording a denial is still a system error: the attempt must
// not vanish silently.
func (s *Session) deny(ctx context.Context, token string, st *models.Student, action models.ScanAction, op models.Operator, reason models.DenyReason) (models.ScanResult, error) {
	ev := s.newEvent(token, st, action, op)
	ev.DenyReason = reason

	actx, cancel := ctxutil.WithCollaboratorTimeout(ctx)
	err := s.ledger.Append(actx, ev)
	cancel()
	if err != nil {
		return models.ScanResult{}, systemErr("ledger append", err)
	}
	metrics.ScanObserved(string(action.Service), "denied")
	metrics.ScanDenied(string(reason))

	s.log.Info("scan denied",
		zap.String("service", string(action.Service)),
		zap.String("reason", string(reason)),
	)
	res := models.ScanResult{DenyReason: reason}
	if st != nil {
		stCopy := *st
		res.Student = &stCopy
	}
	res.Event = &ev
	return res, nil
}

func (s *Session) newEvent(token string, st *models.Student, action models.ScanAction, op models.Operator) models.ScanEvent {
	ev := models.ScanEvent{
		ID:         uuid.NewString(),
		Token:      token,
		Service:    action.Service,
		Subtype:    action.Subtype,
		BusID:      action.BusID,
		Location:   action.Location,
		OperatorID: op.ID,
		At:         s.now(),
	}
	if st != nil {
		id := st.ID
		ev.StudentID = &id
	}
	return ev
}

func (s *Session) rollbackIncrement(ctx context.Context, busID string) {
	rctx, cancel := ctxutil.WithCollaboratorTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.buses.Decrement(rctx, busID); err != nil {
		s.log.Error("occupancy rollback failed", zap.String("bus_id", busID), zap.Error(err))
	}
}
