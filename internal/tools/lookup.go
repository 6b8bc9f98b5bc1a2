package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LookupTool lists the caller's upcoming appointments.
type LookupTool struct {
	directory Directory
	location  *time.Location
	now       func() time.Time
}

func NewLookupTool(directory Directory, location *time.Location) *LookupTool {
	return &LookupTool{directory: directory, location: location, now: time.Now}
}

func (t *LookupTool) Name() string { return "lookup_appointments" }

func (t *LookupTool) Description() string {
	return "List the caller's upcoming scheduled appointments with their IDs, dates and reasons."
}

func (t *LookupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *LookupTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *ToolResult {
	client, err := t.directory.GetClientByPhone(ctx, tc.ContactPhone)
	if err != nil {
		return ErrorResult("could not look up the caller in the client directory").WithError(err)
	}
	if client == nil {
		return SuccessResult("the caller has no appointments on record")
	}

	appointments, err := t.directory.ListClientAppointments(ctx, client.ID, t.now())
	if err != nil {
		return ErrorResult("could not list the caller's appointments").WithError(err)
	}
	if len(appointments) == 0 {
		return SuccessResult("the caller has no upcoming appointments")
	}

	var lines []string
	for _, appt := range appointments {
		line := fmt.Sprintf("appointment %d on %s (%d minutes)",
			appt.ID,
			appt.StartsAt.In(t.location).Format("Monday 2 January at 15:04"),
			int(appt.Duration.Minutes()),
		)
		if appt.Reason != "" {
			line += ", reason: " + appt.Reason
		}
		lines = append(lines, line)
	}
	return SuccessResult(strings.Join(lines, "\n"))
}
