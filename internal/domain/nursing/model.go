package nursing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("nursing queue entry not found")
	ErrGroupNotFound    = errors.New("nursing group not found")
	ErrAlreadyCompleted = errors.New("nursing queue entry already completed")
)

type EntryType string

const (
	TypeReadingsTooHigh         EntryType = "readings_too_high"
	TypeReadingsTooLow          EntryType = "readings_too_low"
	TypeNotEnoughRecentReadings EntryType = "not_enough_recent_readings"
)

var validTypes = map[EntryType]bool{
	TypeReadingsTooHigh: true, TypeReadingsTooLow: true, TypeNotEnoughRecentReadings: true,
}

const (
	// DedupWindow is how far back an entry of the same type suppresses a new one.
	DedupWindow = 7 * 24 * time.Hour
	// DueInDays is the due date offset of a new entry.
	DueInDays = 7
)

// Group maps to the nursing_group table.
type Group struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Entry maps to the nursing_queue_entry table.
type Entry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	NursingGroupID uuid.UUID  `db:"nursing_group_id" json:"nursing_group_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	EntryType      EntryType  `db:"entry_type" json:"entry_type"`
	DueDate        time.Time  `db:"due_date" json:"due_date"`
	Completed      bool       `db:"completed" json:"completed"`
	CompletedBy    string     `db:"completed_by" json:"completed_by,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Note           string     `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// RunResult summarizes one queue population pass.
type RunResult struct {
	Patients   int `json:"patients"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Today returns the UTC calendar date of t.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
