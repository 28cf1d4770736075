package medtrum

import (
	"encoding/base64"
	"fmt"
	"time"
)

// DayWindow returns the first and last microsecond of now's UTC calendar day.
func DayWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 999999000, time.UTC)
	return start, end
}

// windowJSON matches the separators the EasyView app sends.
const windowJSON = `{"ts": [%d, %d], "tz": 0}`

// encodeWindowParam builds the base64 "param" query value for the status call.
// Timestamps are whole Unix seconds; tz is always UTC+0.
func encodeWindowParam(now time.Time) string {
	start, end := DayWindow(now)
	payload := fmt.Sprintf(windowJSON, start.Unix(), end.Unix())
	return base64.StdEncoding.EncodeToString([]byte(payload))
}
