package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wareply/internal/models"
)

var (
	ErrSlotConflict        = errors.New("appointment slot conflicts with an existing appointment")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// GetClientByPhone returns the directory record for a phone number, or
// nil if the caller is unknown.
func (d *Database) GetClientByPhone(ctx context.Context, phoneNumber string) (*models.Client, error) {
	row := d.db.QueryRowContext(ctx, SelectClientByPhoneQuery, phoneNumber)

	var client models.Client
	err := row.Scan(&client.ID, &client.PhoneNumber, &client.FullName, &client.PracticeRef, &client.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}
	return &client, nil
}

// CreateClient registers a new contact in the directory.
func (d *Database) CreateClient(ctx context.Context, phoneNumber, fullName string) (*models.Client, error) {
	res, err := d.db.ExecContext(ctx, InsertClientQuery, phoneNumber, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to insert client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read client ID: %w", err)
	}
	return &models.Client{ID: id, PhoneNumber: phoneNumber, FullName: fullName, CreatedAt: time.Now().UTC()}, nil
}

// CreatePractice seeds the business record the assistant answers for.
func (d *Database) CreatePractice(ctx context.Context, practice *models.Practice) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO practices (name, address, phone, info) VALUES (?, ?, ?, ?)`,
		practice.Name, practice.Address, practice.Phone, practice.Info)
	if err != nil {
		return fmt.Errorf("failed to insert practice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read practice ID: %w", err)
	}
	practice.ID = id
	return nil
}

// GetPractice returns the business record the assistant answers for,
// or nil if none has been seeded.
func (d *Database) GetPractice(ctx context.Context) (*models.Practice, error) {
	row := d.db.QueryRowContext(ctx, SelectPracticeQuery)

	var practice models.Practice
	err := row.Scan(&practice.ID, &practice.Name, &practice.Address, &practice.Phone, &practice.Info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan practice: %w", err)
	}
	return &practice, nil
}

// CreateAppointment books a slot for a client. It fails with
// ErrSlotConflict when the requested window overlaps any scheduled
// appointment. The conflict check and the insert run in one
// transaction so two concurrent bookings cannot both claim the slot.
func (d *Database) CreateAppointment(ctx context.Context, clientID int64, startsAt time.Time, duration time.Duration, reason string) (*models.Appointment, error) {
	startsAt = startsAt.UTC()
	endsAt := startsAt.Add(duration)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	taken, err := slotTaken(ctx, tx, startsAt, endsAt)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotConflict
	}

	res, err := tx.ExecContext(ctx, InsertAppointmentQuery, clientID, startsAt, int(duration.Minutes()), reason)
	if err != nil {
		return nil, fmt.Errorf("failed to insert appointment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read appointment ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit appointment: %w", err)
	}

	return &models.Appointment{
		ID:       id,
		ClientID: clientID,
		StartsAt: startsAt,
		Duration: duration,
		Reason:   reason,
		Status:   models.AppointmentScheduled,
	}, nil
}

// slotTaken reports whether any scheduled appointment overlaps the
// requested window.
func slotTaken(ctx context.Context, tx *sql.Tx, startsAt, endsAt time.Time) (bool, error) {
	// Candidates are bounded below by the longest plausible prior
	// appointment still overlapping the requested window.
	windowStart := startsAt.Add(-24 * time.Hour)

	rows, err := tx.QueryContext(ctx, SelectAppointmentCandidatesQuery, windowStart, endsAt)
	if err != nil {
		return false, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		existing, err := scanAppointment(rows)
		if err != nil {
			return false, err
		}
		existingEnd := existing.StartsAt.Add(existing.Duration)
		if existing.StartsAt.Before(endsAt) && existingEnd.After(startsAt) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return false, nil
}

// ListClientAppointments returns a client's scheduled appointments from
// the given time onward, soonest first.
func (d *Database) ListClientAppointments(ctx context.Context, clientID int64, from time.Time) ([]models.Appointment, error) {
	rows, err := d.db.QueryContext(ctx, SelectClientAppointmentsQuery, clientID, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var appointments []models.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, *appt)
	}
	return appointments, rows.Err()
}

// CancelAppointment marks a scheduled appointment as cancelled. The
// clientID guard stops one caller from cancelling another's slot.
func (d *Database) CancelAppointment(ctx context.Context, appointmentID, clientID int64) error {
	res, err := d.db.ExecContext(ctx, CancelAppointmentQuery, appointmentID, clientID)
	if err != nil {
		return fmt.Errorf("failed to cancel appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var appt models.Appointment
	var durationMin int64
	err := row.Scan(&appt.ID, &appt.ClientID, &appt.StartsAt, &durationMin, &appt.Reason, &appt.Status, &appt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan appointment: %w", err)
	}
	appt.Duration = time.Duration(durationMin) * time.Minute
	return &appt, nil
}
