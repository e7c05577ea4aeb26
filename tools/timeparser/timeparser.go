package timeparser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// layouts accepted for reading timestamps, tried in order. Layouts without a
// zone are interpreted as UTC.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
}

// ParseReadingTimestamp parses a sensor reading timestamp. Besides the
// layouts above it accepts Unix epoch seconds or milliseconds.
func ParseReadingTimestamp(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)

	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	if epoch, err := strconv.ParseInt(dateStr, 10, 64); err == nil {
		// 1e11 seconds is year 5138; anything larger is milliseconds
		if epoch > 1e11 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
