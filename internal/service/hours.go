package service

import (
	"fmt"
	"time"

	"wareply/internal/models"
)

// EvaluateBusinessHours reports whether automated replies are allowed
// at the given instant. A disabled gate is always open. Windows that
// cross midnight (e.g. 22:00 to 06:00) are handled.
func EvaluateBusinessHours(now time.Time, cfg models.BusinessHoursConfig) (bool, error) {
	if !cfg.Enabled {
		return true, nil
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid business hours timezone %q: %w", cfg.Timezone, err)
	}

	start, err := parseClock(cfg.Start)
	if err != nil {
		return false, fmt.Errorf("invalid business hours start: %w", err)
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return false, fmt.Errorf("invalid business hours end: %w", err)
	}

	local := now.In(location)
	minutes := local.Hour()*60 + local.Minute()

	if start <= end {
		return minutes >= start && minutes < end, nil
	}
	// Overnight window
	return minutes >= start || minutes < end, nil
}

// ClosedReply is the message sent instead of invoking the model when
// the gate is closed. It names the configured hours so the caller
// knows when to expect an answer.
func ClosedReply(cfg models.BusinessHoursConfig) string {
	return fmt.Sprintf(
		"Grazie per il suo messaggio! Al momento siamo chiusi. Il nostro orario è %s - %s. Le risponderemo appena possibile.",
		cfg.Start, cfg.End,
	)
}

func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
