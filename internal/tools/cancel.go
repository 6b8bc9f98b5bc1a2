package tools

import (
	"context"
	"errors"
	"fmt"

	"wareply/internal/database"
)

// CancelTool cancels one of the caller's scheduled appointments.
type CancelTool struct {
	directory Directory
}

func NewCancelTool(directory Directory) *CancelTool {
	return &CancelTool{directory: directory}
}

func (t *CancelTool) Name() string { return "cancel_appointment" }

func (t *CancelTool) Description() string {
	return "Cancel one of the caller's scheduled appointments. Look the appointment up first with lookup_appointments to get its ID."
}

func (t *CancelTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"appointment_id": map[string]interface{}{
				"type":        "number",
				"description": "ID of the appointment to cancel",
			},
		},
		"required": []string{"appointment_id"},
	}
}

func (t *CancelTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *ToolResult {
	rawID, _ := args["appointment_id"].(float64)
	appointmentID := int64(rawID)

	client, err := t.directory.GetClientByPhone(ctx, tc.ContactPhone)
	if err != nil {
		return ErrorResult("could not look up the caller in the client directory").WithError(err)
	}
	if client == nil {
		return ErrorResult("the caller has no appointments on record")
	}

	if err := t.directory.CancelAppointment(ctx, appointmentID, client.ID); err != nil {
		if errors.Is(err, database.ErrAppointmentNotFound) {
			return ErrorResult(fmt.Sprintf("appointment %d was not found among the caller's scheduled appointments", appointmentID))
		}
		return ErrorResult("could not cancel the appointment").WithError(err)
	}

	return SuccessResult(fmt.Sprintf("appointment %d cancelled", appointmentID))
}
