package rest

import (
	"strings"
	"time"
)

// ISOTime unmarshals the server's ISO 8601 timestamps, which may omit the
// timezone suffix.
type ISOTime struct {
	time.Time
}

func (t *ISOTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	// Unparseable timestamps degrade to zero rather than failing the
	// whole payload.
	return nil
}
