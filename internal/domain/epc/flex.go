package epc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// FlexInt decodes a whole JSON number or numeric string. Empty and null
// decode to zero.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		// cast parses a leading zero as octal
		s = strings.TrimLeft(s, "0")
		if s == "" || strings.HasPrefix(s, ".") {
			s = "0" + s
		}
		raw = s
	}
	if v, ok := raw.(float64); ok && v != math.Trunc(v) {
		return fmt.Errorf("%w: quantity %s is not a whole number", ErrInvalidPayload, b)
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return fmt.Errorf("%w: quantity %s: %v", ErrInvalidPayload, b, err)
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) Int() int { return int(f) }

// Partner date layouts tried before falling back to cast's list.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"20060102",
}

// FlexDate decodes a date in any of the layouts partners send. Empty and
// null decode to an invalid date.
type FlexDate struct {
	Time  time.Time
	Valid bool
}

func (f *FlexDate) UnmarshalJSON(b []byte) error {
	*f = FlexDate{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid date %s: %w", b, err)
	}
	t, ok, err := ParseDate(s)
	if err != nil {
		return err
	}
	f.Time, f.Valid = t, ok
	return nil
}

func (f FlexDate) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Time.Format("2006-01-02"))
}

// Ptr returns the date or nil when unset.
func (f FlexDate) Ptr() *time.Time {
	if !f.Valid {
		return nil
	}
	t := f.Time
	return &t
}

// ParseDate normalizes s to a UTC calendar date. It reports false for an
// empty string.
func ParseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDate(t), true, nil
		}
	}
	t, err := cast.ToTimeE(s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return truncateDate(t), true, nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
