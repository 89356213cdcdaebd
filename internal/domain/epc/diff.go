package epc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CreatedNote is the note body for the first change of an order.
const CreatedNote = "Created order."

type field struct {
	label string
	value func(*Change) string
}

func intValue(get func(*Change) int) func(*Change) string {
	return func(c *Change) string { return strconv.Itoa(get(c)) }
}

func dateValue(get func(*Change) *time.Time) func(*Change) string {
	return func(c *Change) string {
		t := get(c)
		if t == nil {
			return "none"
		}
		return t.Format("2006-01-02")
	}
}

func stringValue(get func(*Change) string) func(*Change) string {
	return func(c *Change) string {
		if v := get(c); v != "" {
			return v
		}
		return "none"
	}
}

var trackedFields = []field{
	{"Order type", stringValue(func(c *Change) string { return c.OrderType })},
	{"Meter quantity", intValue(func(c *Change) int { return c.MeterQuantity })},
	{"Strip quantity", intValue(func(c *Change) int { return c.StripQuantity })},
	{"Lancet quantity", intValue(func(c *Change) int { return c.LancetQuantity })},
	{"Control solution quantity", intValue(func(c *Change) int { return c.ControlSolutionQuantity })},
	{"Shipped meter quantity", intValue(func(c *Change) int { return c.ShippedMeterQuantity })},
	{"Shipped strip quantity", intValue(func(c *Change) int { return c.ShippedStripQuantity })},
	{"Shipped lancet quantity", intValue(func(c *Change) int { return c.ShippedLancetQuantity })},
	{"Status", stringValue(func(c *Change) string { return c.Status })},
	{"Tracking number", stringValue(func(c *Change) string { return c.TrackingNumber })},
	{"Requested ship date", dateValue(func(c *Change) *time.Time { return c.RequestedShipDate })},
	{"Shipped date", dateValue(func(c *Change) *time.Time { return c.ShippedDate })},
}

// NoteMessage describes how c differs from prev, the change immediately
// before it by Ordering. The first change of an order reads CreatedNote.
// It returns an empty string when nothing changed.
func (c *Change) NoteMessage(prev *Change) string {
	if c.Ordering == 0 || prev == nil {
		return CreatedNote
	}
	var lines []string
	for _, f := range trackedFields {
		was, now := f.value(prev), f.value(c)
		if was != now {
			lines = append(lines, fmt.Sprintf("%s changed from %s to %s.", f.label, was, now))
		}
	}
	return strings.Join(lines, "\n")
}
