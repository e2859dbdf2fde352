package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/google/uuid"
)

// Applier ingests validated import rows. One call is one row; errors fail
// that row only, the engine keeps iterating.
type Applier struct {
	DB *sql.DB
}

func (a *Applier) Apply(ctx context.Context, typ models.ImportType, row models.ImportRow) error {
	switch typ {
	case models.ImportStudents:
		return a.applyStudent(ctx, row)
	case models.ImportBuses:
		return a.applyBus(ctx, row)
	case models.ImportTransportDetails:
		return a.applyTransport(ctx, row)
	case models.ImportLunchDetails:
		return a.applyLunch(ctx, row)
	default:
		return fmt.Errorf("unknown import type %q", typ)
	}
}

func (a *Applier) applyStudent(ctx context.Context, row models.ImportRow) error {
	v := row.Values
	active := true
	if s := v["active"]; s != "" {
		active = parseBool(s)
	}
	var parentChat *int64
	if s := v["parent_chat_id"]; s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parent_chat_id: %w", err)
		}
		parentChat = &n
	}

	var dob *string
	if s := v["date_of_birth"]; s != "" {
		d, err := parseDate(s)
		if err != nil {
			return err
		}
		dob = &d
	}

	// New students get a fresh QR token; re-imports keep the one already
	// printed on the student's card.
	_, err := a.DB.ExecContext(ctx, `
INSERT INTO students (admission_no, qr_token, name, grade, section, date_of_birth, parent_chat_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (admission_no) DO UPDATE SET
    name = EXCLUDED.name,
    grade = EXCLUDED.grade,
    section = EXCLUDED.section,
    date_of_birth = EXCLUDED.date_of_birth,
    parent_chat_id = EXCLUDED.parent_chat_id,
    is_active = EXCLUDED.is_active`,
		v["admission_no"], uuid.NewString(), v["name"], v["grade"], v["section"], dob, parentChat, active)
	return err
}

func (a *Applier) applyBus(ctx context.Context, row models.ImportRow) error {
	v := row.Values
	capacity, err := strconv.Atoi(v["capacity"])
	if err != nil {
		return fmt.Errorf("capacity: %w", err)
	}
	status := v["status"]
	if status == "" {
		status = string(models.BusActive)
	}
	_, err = a.DB.ExecContext(ctx, `
INSERT INTO buses (id, plate, driver, capacity, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    plate = EXCLUDED.plate,
    driver = EXCLUDED.driver,
    capacity = EXCLUDED.capacity,
    status = EXCLUDED.status`,
		v["bus_id"], v["plate"], v["driver"], capacity, status)
	return err
}

func (a *Applier) applyTransport(ctx context.Context, row models.ImportRow) error {
	v := row.Values
	studentID, err := a.studentID(ctx, v["admission_no"])
	if err != nil {
		return err
	}
	_, err = a.DB.ExecContext(ctx, `
INSERT INTO enrollments (student_id, service, enrolled, payment_status, bus_id, pickup_point, dropoff_point)
VALUES ($1, 'transport', true, $2, $3, $4, $5)
ON CONFLICT (student_id, service) DO UPDATE SET
    enrolled = true,
    payment_status = EXCLUDED.payment_status,
    bus_id = EXCLUDED.bus_id,
    pickup_point = EXCLUDED.pickup_point,
    dropoff_point = EXCLUDED.dropoff_point`,
		studentID, v["payment_status"], v["bus_id"], v["pickup_point"], v["dropoff_point"])
	return err
}

func (a *Applier) applyLunch(ctx context.Context, row models.ImportRow) error {
	v := row.Values
	studentID, err := a.studentID(ctx, v["admission_no"])
	if err != nil {
		return err
	}
	allergies, err := json.Marshal(splitList(v["allergies"]))
	if err != nil {
		return err
	}
	_, err = a.DB.ExecContext(ctx, `
INSERT INTO enrollments (student_id, service, enrolled, payment_status, diet_type, allergies, requirements)
VALUES ($1, 'lunch', true, $2, $3, $4, $5)
ON CONFLICT (student_id, service) DO UPDATE SET
    enrolled = true,
    payment_status = EXCLUDED.payment_status,
    diet_type = EXCLUDED.diet_type,
    allergies = EXCLUDED.allergies,
    requirements = EXCLUDED.requirements`,
		studentID, v["payment_status"], v["diet_type"], allergies, v["requirements"])
	return err
}

func (a *Applier) studentID(ctx context.Context, admissionNo string) (int64, error) {
	var id int64
	err := a.DB.QueryRowContext(ctx,
		`SELECT id FROM students WHERE admission_no = $1`, admissionNo).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("unknown admission_no %q", admissionNo)
	}
	return id, err
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// parseDate normalizes the date formats the import schema accepts into the
// ISO form postgres expects.
func parseDate(s string) (string, error) {
	for _, layout := range []string{"2006-01-02", "02.01.2006", "01-02-06", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("not a date: %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
