package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/jobs"
	"github.com/careline/careline/internal/platform/notification"
)

const (
	welcomeTemplate  = "welcome"
	reminderTemplate = "reading_reminder"
)

type Service struct {
	patients   PatientRepository
	readings   ReadingRepository
	queue      jobs.Queue
	dispatcher *notification.Dispatcher
	templates  *notification.TemplateEngine
	logger     zerolog.Logger
}

func NewService(
	patients PatientRepository,
	readings ReadingRepository,
	queue jobs.Queue,
	dispatcher *notification.Dispatcher,
	templates *notification.TemplateEngine,
	logger zerolog.Logger,
) *Service {
	return &Service{
		patients:   patients,
		readings:   readings,
		queue:      queue,
		dispatcher: dispatcher,
		templates:  templates,
		logger:     logger.With().Str("component", "patient").Logger(),
	}
}

// -- Patient --

func validatePatient(p *Patient) error {
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.LastName == "" {
		return fmt.Errorf("last_name is required")
	}
	if p.Email != "" {
		if err := notification.CheckEmail(p.Email); err != nil {
			return err
		}
	}
	return validateThresholds(p.Thresholds)
}

func validateThresholds(t Thresholds) error {
	groups := []struct {
		name   string
		fields []*int
	}{
		{"readings_too_high", []*int{t.ReadingsTooHighThreshold, t.ReadingsTooHighInterval, t.ReadingsTooHighLimit}},
		{"readings_too_low", []*int{t.ReadingsTooLowThreshold, t.ReadingsTooLowInterval, t.ReadingsTooLowLimit}},
		{"not_enough_recent_readings", []*int{t.NotEnoughRecentReadingsInterval, t.NotEnoughRecentReadingsMinimum}},
	}
	for _, g := range groups {
		set := 0
		for _, f := range g.fields {
			if f == nil {
				continue
			}
			if *f <= 0 {
				return fmt.Errorf("%s settings must be positive", g.name)
			}
			set++
		}
		if set != 0 && set != len(g.fields) {
			return fmt.Errorf("%s settings must all be set or all be empty", g.name)
		}
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, params, limit, offset)
}

// ListNursingCandidates returns the patients the nursing queue evaluates.
func (s *Service) ListNursingCandidates(ctx context.Context) ([]*Patient, error) {
	return s.patients.ListInNursingGroups(ctx)
}

// -- Readings --

// RecordReading stores a reading and queues alert evaluation for it. A
// queue failure is logged; the reading stays recorded.
func (s *Service) RecordReading(ctx context.Context, r *Reading, now time.Time) error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if r.ValueMgDL <= 0 {
		return fmt.Errorf("value_mgdl must be positive")
	}
	if r.TakenAt.IsZero() {
		r.TakenAt = now
	}
	if r.TakenAt.After(now.Add(5 * time.Minute)) {
		return fmt.Errorf("taken_at is in the future")
	}
	if _, err := s.patients.GetByID(ctx, r.PatientID); err != nil {
		return fmt.Errorf("get patient: %w", err)
	}
	if err := s.readings.Create(ctx, r); err != nil {
		return fmt.Errorf("create reading: %w", err)
	}

	if s.queue != nil {
		ev := ReadingEvent{ReadingID: r.ID, PatientID: r.PatientID}
		if err := s.queue.Enqueue(ctx, jobs.EvaluateReading, ev); err != nil {
			s.logger.Error().Err(err).Str("reading_id", r.ID.String()).Msg("enqueue reading evaluation failed")
		}
	}
	return nil
}

func (s *Service) GetReading(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return s.readings.GetByID(ctx, id)
}

func (s *Service) ListReadings(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	return s.readings.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) CountReadingsSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	return s.readings.CountSince(ctx, patientID, since)
}

func (s *Service) CountReadingsAboveSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error) {
	return s.readings.CountAboveSince(ctx, patientID, threshold, since)
}

func (s *Service) CountReadingsBelowSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error) {
	return s.readings.CountBelowSince(ctx, patientID, threshold, since)
}

func (s *Service) LatestReadingAt(ctx context.Context, patientID uuid.UUID) (*time.Time, error) {
	return s.readings.LatestTakenAt(ctx, patientID)
}

// -- Texts --

// SendWelcomeTexts texts every active patient that has not been welcomed
// yet. Patients whose text fails stay pending for the next run.
func (s *Service) SendWelcomeTexts(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.patients.ListWelcomePending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list welcome pending: %w", err)
	}
	sent := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !s.text(ctx, p, welcomeTemplate) {
			continue
		}
		if err := s.patients.MarkWelcomeSent(ctx, p.ID, now); err != nil {
			s.logger.Error().Err(err).Str("patient_id", p.ID.String()).Msg("mark welcome sent failed")
			continue
		}
		sent++
	}
	s.logger.Info().Int("pending", len(pending)).Int("sent", sent).Msg("welcome texts done")
	return sent, nil
}

// SendReadingReminders texts patients who have not taken a reading since
// the start of the current day.
func (s *Service) SendReadingReminders(ctx context.Context, now time.Time) (int, error) {
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	due, err := s.patients.ListWithoutReadingSince(ctx, startOfDay)
	if err != nil {
		return 0, fmt.Errorf("list reminder candidates: %w", err)
	}
	sent := 0
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if s.text(ctx, p, reminderTemplate) {
			sent++
		}
	}
	s.logger.Info().Int("candidates", len(due)).Int("sent", sent).Msg("reading reminders done")
	return sent, nil
}

func (s *Service) text(ctx context.Context, p *Patient, templateID string) bool {
	msg, err := s.templates.Render(templateID, map[string]string{"patient_name": p.FirstName})
	if err != nil {
		s.logger.Error().Err(err).Str("template", templateID).Msg("render failed")
		return false
	}
	res := s.dispatcher.Send(ctx, notification.ChannelSMS, p.Recipient(), msg)
	return res.Status == notification.StatusSent
}

// RegisterJobs binds the patient messaging jobs to r.
func (s *Service) RegisterJobs(r *jobs.Registry) {
	r.Register(jobs.WelcomeTexts, func(ctx context.Context, _ json.RawMessage) error {
		_, err := s.SendWelcomeTexts(ctx, time.Now())
		return err
	})
	r.Register(jobs.ReadingReminders, func(ctx context.Context, _ json.RawMessage) error {
		_, err := s.SendReadingReminders(ctx, time.Now())
		return err
	})
}
