package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/Spok95/school-attendance/internal/scan"
)

// Directory is the postgres-backed student directory: QR token resolution
// and enrollment lookup.
type Directory struct {
	DB *sql.DB
}

func (d *Directory) Resolve(ctx context.Context, token string) (*models.Student, error) {
	var st models.Student
	err := d.DB.QueryRowContext(ctx, `
SELECT id, admission_no, name, grade, section, parent_chat_id, is_active
FROM students
WHERE qr_token = $1`, token).
		Scan(&st.ID, &st.AdmissionNo, &st.Name, &st.Grade, &st.Section, &st.ParentChat, &st.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scan.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return &st, nil
}

func (d *Directory) Enrollment(ctx context.Context, studentID int64, service models.ServiceType) (*models.ServiceEnrollment, error) {
	var (
		enr       models.ServiceEnrollment
		busID     sql.NullString
		pickup    string
		dropoff   string
		diet      string
		allergies []byte
		reqs      string
	)
	err := d.DB.QueryRowContext(ctx, `
SELECT student_id, service, enrolled, payment_status,
       bus_id, pickup_point, dropoff_point,
       diet_type, allergies, requirements
FROM enrollments
WHERE student_id = $1 AND service = $2`, studentID, string(service)).
		Scan(&enr.StudentID, &enr.Service, &enr.Enrolled, &enr.Payment,
			&busID, &pickup, &dropoff, &diet, &allergies, &reqs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enrollment lookup: %w", err)
	}

	switch enr.Service {
	case models.ServiceTransport:
		enr.Transport = &models.TransportDetails{
			BusID:        busID.String,
			PickupPoint:  pickup,
			DropoffPoint: dropoff,
		}
	case models.ServiceLunch:
		l := &models.LunchDetails{
			Diet:         models.DietType(diet),
			Requirements: reqs,
		}
		if err := json.Unmarshal(allergies, &l.Allergies); err != nil {
			return nil, fmt.Errorf("decode allergies: %w", err)
		}
		enr.Lunch = l
	}
	return &enr, nil
}
