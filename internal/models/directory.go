package models

import "time"

// Client is a directory record for an external contact. The CRUD layer
// owning these records is out of scope; the pipeline only reads and
// creates them through the narrow directory interface.
type Client struct {
	ID          int64     `db:"id"`
	PhoneNumber string    `db:"phone_number"`
	FullName    string    `db:"full_name"`
	PracticeRef *string   `db:"practice_ref"`
	CreatedAt   time.Time `db:"created_at"`
}

// Practice describes the business the assistant answers for.
type Practice struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Address string `db:"address"`
	Phone   string `db:"phone"`
	Info    string `db:"info"`
}

// AppointmentStatus tracks an appointment lifecycle.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a scheduled slot created by the scheduling tool.
type Appointment struct {
	ID        int64             `db:"id"`
	ClientID  int64             `db:"client_id"`
	StartsAt  time.Time         `db:"starts_at"`
	Duration  time.Duration     `db:"duration_min"`
	Reason    string            `db:"reason"`
	Status    AppointmentStatus `db:"status"`
	CreatedAt time.Time         `db:"created_at"`
}
