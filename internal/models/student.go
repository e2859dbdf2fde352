package models

type ServiceType string

const (
	ServiceTransport ServiceType = "transport"
	ServiceLunch     ServiceType = "lunch"
)

type PaymentStatus string

const (
	PaymentActive  PaymentStatus = "active"
	PaymentPending PaymentStatus = "pending"
	PaymentExpired PaymentStatus = "expired"
)

type DietType string

const (
	DietNormal  DietType = "normal"
	DietSpecial DietType = "special"
)

type Student struct {
	ID          int64  `db:"id"`
	AdmissionNo string `db:"admission_no"`
	Name        string `db:"name"`
	Grade       string `db:"grade"`
	Section     string `db:"section"`
	ParentChat  *int64 `db:"parent_chat_id"`
	IsActive    bool   `db:"is_active"`
}

// TransportDetails and LunchDetails are the service-specific halves of an
// enrollment; exactly one of them is set, discriminated by Service.
type TransportDetails struct {
	BusID        string `db:"bus_id"`
	PickupPoint  string `db:"pickup_point"`
	DropoffPoint string `db:"dropoff_point"`
}

type LunchDetails struct {
	Diet         DietType `db:"diet_type"`
	Allergies    []string `db:"allergies"`
	Requirements string   `db:"requirements"`
}

type ServiceEnrollment struct {
	StudentID int64         `db:"student_id"`
	Service   ServiceType   `db:"service"`
	Enrolled  bool          `db:"enrolled"`
	Payment   PaymentStatus `db:"payment_status"`
	Transport *TransportDetails
	Lunch     *LunchDetails
}
