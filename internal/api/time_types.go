package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// FlexDate is a date that can unmarshal from either:
// - a calendar date: "2026-07-01"
// - an RFC3339 timestamp: "2026-07-01T17:00:00Z"
//
// A calendar date has no zone of its own; In places it at midnight in the
// circulation time zone.
type FlexDate struct {
	time.Time
	dateOnly bool
}

// UnmarshalJSON handles flexible date parsing from JSON.
func (d *FlexDate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	return d.parse(s)
}

func (d *FlexDate) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = FlexDate{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		*d = FlexDate{Time: t, dateOnly: true}
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*d = FlexDate{Time: t}
		return nil
	}
	return fmt.Errorf("cannot parse date %q: want YYYY-MM-DD or RFC3339", s)
}

// MarshalJSON outputs the date in RFC3339 format.
func (d FlexDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.RFC3339))
}

// Schema describes FlexDate to huma as a string.
func (FlexDate) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeString,
		Description: "Calendar date (YYYY-MM-DD) or RFC3339 timestamp",
		Examples:    []any{"2026-07-01"},
	}
}

// In resolves the date in loc. Calendar dates become midnight in loc;
// timestamps keep their instant.
func (d FlexDate) In(loc *time.Location) time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	if d.dateOnly {
		y, m, day := d.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, loc)
	}
	return d.Time.In(loc)
}
