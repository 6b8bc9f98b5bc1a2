package tools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wareply/internal/database"
	"wareply/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDirectory(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
}

func testContext() ToolContext {
	return ToolContext{ConversationID: 1, ContactPhone: "393331234567", ContactName: "Maria Rossi"}
}

func TestScheduleToolBooksAndRegistersClient(t *testing.T) {
	db := setupDirectory(t)
	tool := NewScheduleTool(db, time.UTC)
	tool.now = fixedNow

	result := tool.Execute(context.Background(), map[string]interface{}{
		"date":   "2026-09-01",
		"time":   "15:00",
		"reason": "massage",
	}, testContext())

	require.True(t, result.Success, result.Message)
	assert.Contains(t, result.Message, "booked")

	// First booking registered the caller as a client
	client, err := db.GetClientByPhone(context.Background(), "393331234567")
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "Maria Rossi", client.FullName)

	appointments, err := db.ListClientAppointments(context.Background(), client.ID, fixedNow())
	require.NoError(t, err)
	require.Len(t, appointments, 1)
	assert.Equal(t, "massage", appointments[0].Reason)
}

func TestScheduleToolRejectsConflict(t *testing.T) {
	db := setupDirectory(t)
	tool := NewScheduleTool(db, time.UTC)
	tool.now = fixedNow

	args := map[string]interface{}{"date": "2026-09-01", "time": "15:00"}
	first := tool.Execute(context.Background(), args, testContext())
	require.True(t, first.Success)

	second := tool.Execute(context.Background(), args, ToolContext{ContactPhone: "393337654321", ContactName: "Luca"})
	assert.False(t, second.Success)
	assert.Contains(t, second.Message, "already taken")
}

func TestScheduleToolRejectsPastSlot(t *testing.T) {
	db := setupDirectory(t)
	tool := NewScheduleTool(db, time.UTC)
	tool.now = fixedNow

	result := tool.Execute(context.Background(), map[string]interface{}{
		"date": "2026-08-26", "time": "15:00",
	}, testContext())
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "past")
}

func TestScheduleToolRejectsBadDate(t *testing.T) {
	db := setupDirectory(t)
	tool := NewScheduleTool(db, time.UTC)
	tool.now = fixedNow

	result := tool.Execute(context.Background(), map[string]interface{}{
		"date": "next tuesday", "time": "15:00",
	}, testContext())
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "could not parse")
}

func TestCancelTool(t *testing.T) {
	db := setupDirectory(t)
	schedule := NewScheduleTool(db, time.UTC)
	schedule.now = fixedNow
	cancel := NewCancelTool(db)

	booked := schedule.Execute(context.Background(), map[string]interface{}{
		"date": "2026-09-01", "time": "15:00",
	}, testContext())
	require.True(t, booked.Success)
	appointmentID := booked.Data["appointment_id"].(int64)

	result := cancel.Execute(context.Background(), map[string]interface{}{
		"appointment_id": float64(appointmentID),
	}, testContext())
	assert.True(t, result.Success, result.Message)

	// Cancelling again reports it as gone
	again := cancel.Execute(context.Background(), map[string]interface{}{
		"appointment_id": float64(appointmentID),
	}, testContext())
	assert.False(t, again.Success)
	assert.Contains(t, again.Message, "not found")
}

func TestCancelToolUnknownCaller(t *testing.T) {
	db := setupDirectory(t)
	cancel := NewCancelTool(db)

	result := cancel.Execute(context.Background(), map[string]interface{}{
		"appointment_id": 1.0,
	}, testContext())
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no appointments")
}

func TestLookupTool(t *testing.T) {
	db := setupDirectory(t)
	schedule := NewScheduleTool(db, time.UTC)
	schedule.now = fixedNow
	lookup := NewLookupTool(db, time.UTC)
	lookup.now = fixedNow

	// Unknown caller gets an empty, successful answer
	empty := lookup.Execute(context.Background(), nil, testContext())
	assert.True(t, empty.Success)
	assert.Contains(t, empty.Message, "no appointments")

	booked := schedule.Execute(context.Background(), map[string]interface{}{
		"date": "2026-09-01", "time": "15:00", "reason": "facial",
	}, testContext())
	require.True(t, booked.Success)

	result := lookup.Execute(context.Background(), nil, testContext())
	require.True(t, result.Success)
	assert.Contains(t, result.Message, "facial")
	assert.Contains(t, result.Message, "September")
}

func TestPracticeTool(t *testing.T) {
	db := setupDirectory(t)
	tool := NewPracticeTool(db)

	missing := tool.Execute(context.Background(), nil, testContext())
	assert.False(t, missing.Success)

	_, err := db.CreateClient(context.Background(), "000", "seed") // unrelated row
	require.NoError(t, err)
	seedPractice(t, db)

	result := tool.Execute(context.Background(), nil, testContext())
	require.True(t, result.Success)
	assert.Contains(t, result.Message, "Centro Estetico Luna")
	assert.Contains(t, result.Message, "Via Roma 1")
}

func seedPractice(t *testing.T, db *database.Database) {
	t.Helper()
	err := db.CreatePractice(context.Background(), &models.Practice{
		Name:    "Centro Estetico Luna",
		Address: "Via Roma 1, Milano",
		Phone:   "+390212345678",
		Info:    "Open Tue-Sat 9-18",
	})
	require.NoError(t, err)
}
