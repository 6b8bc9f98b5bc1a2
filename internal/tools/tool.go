package tools

import (
	"context"
	"time"

	"wareply/internal/models"
)

// ToolContext carries caller identity into a tool invocation so tools
// can act on behalf of the contact being replied to.
type ToolContext struct {
	ConversationID int64
	ContactPhone   string
	ContactName    string
}

// ToolResult is what a tool hands back to the model loop. Message is
// the text fed to the model; Data carries structured values for logging.
type ToolResult struct {
	Success bool
	Message string
	Data    map[string]interface{}
	Err     error
}

func SuccessResult(message string) *ToolResult {
	return &ToolResult{Success: true, Message: message}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{Success: false, Message: message}
}

func (r *ToolResult) WithData(data map[string]interface{}) *ToolResult {
	r.Data = data
	return r
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// Tool is a capability the model may invoke during a conversation.
// Parameters returns a JSON schema object with "properties" and
// "required" keys.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *ToolResult
}

// Directory is the slice of storage the appointment tools need.
type Directory interface {
	GetClientByPhone(ctx context.Context, phoneNumber string) (*models.Client, error)
	CreateClient(ctx context.Context, phoneNumber, fullName string) (*models.Client, error)
	GetPractice(ctx context.Context) (*models.Practice, error)
	CreateAppointment(ctx context.Context, clientID int64, startsAt time.Time, duration time.Duration, reason string) (*models.Appointment, error)
	ListClientAppointments(ctx context.Context, clientID int64, from time.Time) ([]models.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID, clientID int64) error
}
