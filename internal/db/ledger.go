package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Spok95/school-attendance/internal/models"
)

// Ledger is the append-only scan record. Read methods consult granted
// entries of the current school day only, where "day" is midnight to
// midnight in the configured school timezone.
type Ledger struct {
	DB *sql.DB
	// Loc is the school's timezone; nil means time.Local.
	Loc *time.Location
}

// dayBounds returns the [start, end) window of the day containing now in loc.
func dayBounds(loc *time.Location, now time.Time) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func (l *Ledger) HasEntryToday(ctx context.Context, studentID int64, service models.ServiceType) (bool, error) {
	start, end := dayBounds(l.Loc, time.Now())
	var n int
	err := l.DB.QueryRowContext(ctx, `
SELECT count(*)
FROM scan_events
WHERE student_id = $1 AND service = $2 AND granted
  AND scanned_at >= $3 AND scanned_at < $4`, studentID, string(service), start, end).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return n > 0, nil
}

func (l *Ledger) LastTransportState(ctx context.Context, studentID int64, busID string) (models.ScanSubtype, error) {
	start, end := dayBounds(l.Loc, time.Now())
	var subtype string
	err := l.DB.QueryRowContext(ctx, `
SELECT subtype
FROM scan_events
WHERE student_id = $1 AND bus_id = $2 AND service = 'transport' AND granted
  AND scanned_at >= $3 AND scanned_at < $4
ORDER BY scanned_at DESC
LIMIT 1`, studentID, busID, start, end).Scan(&subtype)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last transport state: %w", err)
	}
	return models.ScanSubtype(subtype), nil
}

func (l *Ledger) Append(ctx context.Context, ev models.ScanEvent) error {
	warnings, err := json.Marshal(ev.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	if ev.Warnings == nil {
		warnings = []byte("[]")
	}
	_, err = l.DB.ExecContext(ctx, `
INSERT INTO scan_events (
    id, qr_token, student_id, service, subtype, bus_id, location,
    operator_id, scanned_at, granted, deny_reason, warnings
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.Token, ev.StudentID, string(ev.Service), string(ev.Subtype),
		ev.BusID, ev.Location, ev.OperatorID, ev.At, ev.Granted,
		string(ev.DenyReason), warnings,
	)
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}

// EventsForDay returns granted events for one service and date, oldest
// first; used by the report export.
func (l *Ledger) EventsForDay(ctx context.Context, service models.ServiceType, day string) ([]models.ScanEvent, error) {
	loc := l.Loc
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return nil, fmt.Errorf("events for day: %w", err)
	}
	start, end := dayBounds(loc, d)
	rows, err := l.DB.QueryContext(ctx, `
SELECT id, qr_token, student_id, service, subtype, bus_id, location,
       operator_id, scanned_at, granted, deny_reason
FROM scan_events
WHERE service = $1 AND scanned_at >= $2 AND scanned_at < $3
ORDER BY scanned_at`, string(service), start, end)
	if err != nil {
		return nil, fmt.Errorf("events for day: %w", err)
	}
	defer rows.Close()

	var out []models.ScanEvent
	for rows.Next() {
		var ev models.ScanEvent
		if err := rows.Scan(&ev.ID, &ev.Token, &ev.StudentID, &ev.Service, &ev.Subtype,
			&ev.BusID, &ev.Location, &ev.OperatorID, &ev.At, &ev.Granted, &ev.DenyReason); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
