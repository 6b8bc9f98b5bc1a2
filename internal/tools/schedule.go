package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wareply/internal/database"
	"wareply/internal/models"
)

const defaultAppointmentDuration = 30 * time.Minute

// ScheduleTool books an appointment slot for the calling contact.
type ScheduleTool struct {
	directory Directory
	location  *time.Location
	now       func() time.Time
}

func NewScheduleTool(directory Directory, location *time.Location) *ScheduleTool {
	return &ScheduleTool{directory: directory, location: location, now: time.Now}
}

func (t *ScheduleTool) Name() string { return "schedule_appointment" }

func (t *ScheduleTool) Description() string {
	return "Book an appointment for the caller. Use this only after the caller has confirmed the date, time and treatment."
}

func (t *ScheduleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"date": map[string]interface{}{
				"type":        "string",
				"description": "Appointment date in YYYY-MM-DD format",
			},
			"time": map[string]interface{}{
				"type":        "string",
				"description": "Appointment start time in HH:MM 24-hour format",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Requested treatment or reason for the visit",
			},
			"duration_min": map[string]interface{}{
				"type":        "number",
				"description": "Duration in minutes, defaults to 30",
			},
		},
		"required": []string{"date", "time"},
	}
}

func (t *ScheduleTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *ToolResult {
	date, _ := args["date"].(string)
	startTime, _ := args["time"].(string)
	reason, _ := args["reason"].(string)

	startsAt, err := time.ParseInLocation("2006-01-02 15:04", date+" "+startTime, t.location)
	if err != nil {
		return ErrorResult(fmt.Sprintf("could not parse date %q and time %q, expected YYYY-MM-DD and HH:MM", date, startTime))
	}
	if startsAt.Before(t.now()) {
		return ErrorResult("the requested slot is in the past, ask the caller for a future date")
	}

	duration := defaultAppointmentDuration
	if mins, ok := args["duration_min"].(float64); ok && mins > 0 {
		duration = time.Duration(mins) * time.Minute
	}

	client, err := resolveClient(ctx, t.directory, tc)
	if err != nil {
		return ErrorResult("could not look up the caller in the client directory").WithError(err)
	}

	appt, err := t.directory.CreateAppointment(ctx, client.ID, startsAt, duration, reason)
	if err != nil {
		if errors.Is(err, database.ErrSlotConflict) {
			return ErrorResult("that slot is already taken, propose a different time to the caller")
		}
		return ErrorResult("could not book the appointment").WithError(err)
	}

	return SuccessResult(fmt.Sprintf(
		"appointment %d booked for %s, duration %d minutes",
		appt.ID, startsAt.Format("Monday 2 January at 15:04"), int(duration.Minutes()),
	)).WithData(map[string]interface{}{
		"appointment_id": appt.ID,
		"starts_at":      startsAt.Format(time.RFC3339),
	})
}

// resolveClient finds the directory record for the calling contact,
// registering a new client on first booking.
func resolveClient(ctx context.Context, directory Directory, tc ToolContext) (*models.Client, error) {
	client, err := directory.GetClientByPhone(ctx, tc.ContactPhone)
	if err != nil {
		return nil, err
	}
	if client != nil {
		return client, nil
	}
	return directory.CreateClient(ctx, tc.ContactPhone, tc.ContactName)
}
