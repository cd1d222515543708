package authz

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Retention windows travel as human-readable strings ("30 days", "12 hours"),
// matching the wire format of the contract endpoints.
const DefaultRetentionWindow = "30 days"

// ParseRetention converts a retention window string into a duration. A bare
// number is read as days.
func ParseRetention(window string) (time.Duration, error) {
	window = strings.ToLower(strings.TrimSpace(window))
	if window == "" {
		return 0, fmt.Errorf("%w: retention window is required", ErrInvalidRequest)
	}
	fields := strings.Fields(window)
	value, err := strconv.Atoi(fields[0])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: malformed retention window %q", ErrInvalidRequest, window)
	}
	unit := "days"
	if len(fields) > 1 {
		unit = fields[1]
	}
	switch strings.TrimSuffix(unit, "s") {
	case "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "hour":
		return time.Duration(value) * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unsupported retention unit %q", ErrInvalidRequest, unit)
	}
}

// FormatRetention renders a duration back into the wire format.
func FormatRetention(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%d days", int(d/(24*time.Hour)))
	}
	return fmt.Sprintf("%d hours", int(d/time.Hour))
}
