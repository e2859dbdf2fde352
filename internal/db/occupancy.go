package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/Spok95/school-attendance/internal/scan"
)

// Occupancy owns the per-bus seat counter. The increment is a single
// conditional UPDATE so two concurrent boardings can never both pass a stale
// read.
type Occupancy struct {
	DB *sql.DB
	// Loc is the school's timezone for the reconcile day window; nil means
	// time.Local.
	Loc *time.Location
}

// TryIncrement takes one seat on the bus. It reports (false, nil) only for a
// full bus; a bus that exists but is not in active service comes back as
// ErrBusUnavailable so the caller can tell the operator which it was.
func (o *Occupancy) TryIncrement(ctx context.Context, busID string) (bool, error) {
	var status string
	err := o.DB.QueryRowContext(ctx,
		`SELECT status FROM buses WHERE id = $1`, busID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("bus %q: %w", busID, scan.ErrBusUnavailable)
	}
	if err != nil {
		return false, fmt.Errorf("bus status: %w", err)
	}
	if models.BusStatus(status) != models.BusActive {
		return false, fmt.Errorf("bus %q is %s: %w", busID, status, scan.ErrBusUnavailable)
	}

	res, err := o.DB.ExecContext(ctx, `
UPDATE buses
SET occupancy = occupancy + 1
WHERE id = $1 AND status = 'active' AND occupancy < capacity`, busID)
	if err != nil {
		return false, fmt.Errorf("occupancy increment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (o *Occupancy) Decrement(ctx context.Context, busID string) error {
	_, err := o.DB.ExecContext(ctx, `
UPDATE buses
SET occupancy = GREATEST(occupancy - 1, 0)
WHERE id = $1`, busID)
	if err != nil {
		return fmt.Errorf("occupancy decrement: %w", err)
	}
	return nil
}

// Reconcile recomputes each bus's occupancy from today's granted scans
// (boardings minus alightings) and reports buses whose stored counter
// drifted. Run periodically; the counter is derived state, the ledger wins.
func (o *Occupancy) Reconcile(ctx context.Context) (drifted []string, err error) {
	start, end := dayBounds(o.Loc, time.Now())
	rows, err := o.DB.QueryContext(ctx, `
WITH counted AS (
    SELECT bus_id,
           count(*) FILTER (WHERE subtype = 'boarding')
         - count(*) FILTER (WHERE subtype = 'alighting') AS onboard
    FROM scan_events
    WHERE service = 'transport' AND granted
      AND scanned_at >= $1 AND scanned_at < $2
    GROUP BY bus_id
)
UPDATE buses b
SET occupancy = GREATEST(COALESCE(c.onboard, 0), 0)
FROM counted c
WHERE b.id = c.bus_id AND b.occupancy <> GREATEST(COALESCE(c.onboard, 0), 0)
RETURNING b.id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("occupancy reconcile: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		drifted = append(drifted, id)
	}
	return drifted, rows.Err()
}
