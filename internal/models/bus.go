package models

type BusStatus string

const (
	BusActive       BusStatus = "active"
	BusInactive     BusStatus = "inactive"
	BusMaintenance  BusStatus = "maintenance"
	BusOutOfService BusStatus = "out_of_service"
)

// Occupancy is derived from boarded-minus-alighted and must stay within
// Capacity; it is adjusted only through BusOccupancy, never written directly.
type Bus struct {
	ID        string    `db:"id"`
	Plate     string    `db:"plate"`
	Driver    string    `db:"driver"`
	Capacity  int       `db:"capacity"`
	Occupancy int       `db:"occupancy"`
	Status    BusStatus `db:"status"`
}
