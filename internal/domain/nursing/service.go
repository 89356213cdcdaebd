package nursing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/careline/careline/internal/domain/patient"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/jobs"
)

// Readings is the patient data the queue rules are evaluated against.
type Readings interface {
	ListNursingCandidates(ctx context.Context) ([]*patient.Patient, error)
	CountReadingsSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error)
	CountReadingsAboveSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error)
	CountReadingsBelowSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error)
}

type Service struct {
	repo     Repository
	readings Readings
	tx       db.TxRunner
	workers  int
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, readings Readings, tx db.TxRunner, workers int, logger zerolog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		repo:     repo,
		readings: readings,
		tx:       tx,
		workers:  workers,
		logger:   logger.With().Str("component", "nursing_queue").Logger(),
		now:      time.Now,
	}
}

// Run evaluates the queue rules for every active patient in a nursing group.
// A failure on one patient is logged and counted; the pass continues. Run
// only returns an error when the candidates cannot be loaded or ctx ends.
func (s *Service) Run(ctx context.Context, now time.Time) (*RunResult, error) {
	patients, err := s.readings.ListNursingCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nursing candidates: %w", err)
	}

	var (
		mu  sync.Mutex
		res RunResult
		g   errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, p := range patients {
		p := p
		if p.NursingGroupID == nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			created, dups, err := s.evaluate(ctx, p, now)
			mu.Lock()
			defer mu.Unlock()
			res.Patients++
			res.Created += created
			res.Duplicates += dups
			if err != nil {
				res.Errors++
				s.logger.Error().Err(err).Str("patient_id", p.ID.String()).Msg("nursing queue evaluation failed")
			}
			return nil
		})
	}
	err = g.Wait()

	s.logger.Info().
		Int("patients", res.Patients).
		Int("created", res.Created).
		Int("duplicates", res.Duplicates).
		Int("errors", res.Errors).
		Msg("nursing queue pass complete")
	return &res, err
}

type rule struct {
	entryType EntryType
	triggered func(ctx context.Context) (bool, error)
}

func (s *Service) rules(p *patient.Patient, now time.Time) []rule {
	var out []rule
	t := p.Thresholds
	if t.TooHighConfigured() {
		since := now.AddDate(0, 0, -*t.ReadingsTooHighInterval)
		out = append(out, rule{TypeReadingsTooHigh, func(ctx context.Context) (bool, error) {
			n, err := s.readings.CountReadingsAboveSince(ctx, p.ID, *t.ReadingsTooHighThreshold, since)
			return n >= *t.ReadingsTooHighLimit, err
		}})
	}
	if t.TooLowConfigured() {
		since := now.AddDate(0, 0, -*t.ReadingsTooLowInterval)
		out = append(out, rule{TypeReadingsTooLow, func(ctx context.Context) (bool, error) {
			n, err := s.readings.CountReadingsBelowSince(ctx, p.ID, *t.ReadingsTooLowThreshold, since)
			return n >= *t.ReadingsTooLowLimit, err
		}})
	}
	if t.NotEnoughConfigured() {
		since := now.AddDate(0, 0, -*t.NotEnoughRecentReadingsInterval)
		out = append(out, rule{TypeNotEnoughRecentReadings, func(ctx context.Context) (bool, error) {
			n, err := s.readings.CountReadingsSince(ctx, p.ID, since)
			return n < *t.NotEnoughRecentReadingsMinimum, err
		}})
	}
	return out
}

// evaluate applies each configured rule independently; one failing rule does
// not prevent the others.
func (s *Service) evaluate(ctx context.Context, p *patient.Patient, now time.Time) (created, duplicates int, err error) {
	var errs []error
	for _, r := range s.rules(p, now) {
		hit, err := r.triggered(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.entryType, err))
			continue
		}
		if !hit {
			continue
		}
		e := &Entry{
			NursingGroupID: *p.NursingGroupID,
			PatientID:      p.ID,
			EntryType:      r.entryType,
			DueDate:        Today(now).AddDate(0, 0, DueInDays),
		}
		var ok bool
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			ok, err = s.repo.CreateIfAbsent(ctx, e, now.Add(-DedupWindow))
			return err
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", r.entryType, err))
		case ok:
			created++
			s.logger.Info().
				Str("patient_id", p.ID.String()).
				Str("entry_type", string(r.entryType)).
				Time("due_date", e.DueDate).
				Msg("nursing queue entry created")
		default:
			duplicates++
		}
	}
	return created, duplicates, errors.Join(errs...)
}

func (s *Service) CreateGroup(ctx context.Context, g *Group) error {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.CreateGroup(ctx, g)
}

func (s *Service) ListGroups(ctx context.Context) ([]*Group, error) {
	return s.repo.ListGroups(ctx)
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

// ListEntries lists queue entries. Only open entries are returned unless the
// caller filters on completed explicitly.
func (s *Service) ListEntries(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	if v, ok := params["entry_type"]; ok && !validTypes[EntryType(v)] {
		return nil, 0, fmt.Errorf("invalid entry_type: %s", v)
	}
	if _, ok := params["completed"]; !ok {
		params["completed"] = "false"
	}
	return s.repo.List(ctx, params, limit, offset)
}

// Complete closes an entry with the nurse's note.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, user, note string) (*Entry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Completed {
		return nil, ErrAlreadyCompleted
	}
	at := s.now().UTC()
	e.Completed = true
	e.CompletedBy = user
	e.CompletedAt = &at
	e.Note = strings.TrimSpace(note)
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Reschedule moves the due date of an open entry.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, due time.Time) (*Entry, error) {
	if due.IsZero() {
		return nil, fmt.Errorf("due_date is required")
	}
	if due.Before(Today(s.now())) {
		return nil, fmt.Errorf("due_date must not be in the past")
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Completed {
		return nil, ErrAlreadyCompleted
	}
	e.DueDate = Today(due)
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) RegisterJobs(r *jobs.Registry) {
	r.Register(jobs.PopulateNursing, func(ctx context.Context, _ json.RawMessage) error {
		_, err := s.Run(ctx, s.now())
		return err
	})
}
