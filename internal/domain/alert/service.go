package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/careline/careline/internal/domain/patient"
	"github.com/careline/careline/internal/platform/jobs"
	"github.com/careline/careline/internal/platform/notification"
)

// Patients is the patient data alerts are evaluated against.
type Patients interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	GetReading(ctx context.Context, id uuid.UUID) (*patient.Reading, error)
	LatestReadingAt(ctx context.Context, patientID uuid.UUID) (*time.Time, error)
}

// Sender delivers one rendered message. *notification.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, ch notification.Channel, to notification.Recipient, msg notification.Message) notification.Result
}

const complianceWorkers = 4

type Service struct {
	repo      Repository
	patients  Patients
	sender    Sender
	templates *notification.TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, patients Patients, sender Sender, templates *notification.TemplateEngine, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		patients:  patients,
		sender:    sender,
		templates: templates,
		logger:    logger.With().Str("component", "alert").Logger(),
		now:       time.Now,
	}
}

func (s *Service) validate(a *Alert) error {
	if err := checkAlert(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func checkAlert(a *Alert) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if !validKinds[a.RecipientKind] {
		return fmt.Errorf("invalid recipient_kind: %s", a.RecipientKind)
	}
	if !validTypes[a.AlertType] {
		return fmt.Errorf("invalid alert_type: %s", a.AlertType)
	}
	if a.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	if len(a.ContactMethods) == 0 {
		return fmt.Errorf("at least one contact method is required")
	}
	seen := map[notification.Channel]bool{}
	for _, m := range a.ContactMethods {
		if !validChannels[m] {
			return fmt.Errorf("invalid contact method: %s", m)
		}
		if seen[m] {
			return fmt.Errorf("duplicate contact method: %s", m)
		}
		seen[m] = true
	}
	if a.Email != "" {
		if err := notification.CheckEmail(a.Email); err != nil {
			return err
		}
	}
	if a.RecipientKind == RecipientPatient {
		return nil
	}
	if strings.TrimSpace(a.RecipientName) == "" {
		return fmt.Errorf("recipient_name is required")
	}
	for _, m := range a.ContactMethods {
		switch {
		case m == notification.ChannelSMS && a.Phone == "":
			return fmt.Errorf("phone is required for text alerts")
		case m == notification.ChannelEmail && a.Email == "":
			return fmt.Errorf("email is required for email alerts")
		case m == notification.ChannelPush && a.DeviceToken == "":
			return fmt.Errorf("device_token is required for app alerts")
		}
	}
	return nil
}

func (s *Service) CreateAlert(ctx context.Context, a *Alert) error {
	if err := s.validate(a); err != nil {
		return err
	}
	if _, err := s.patients.GetPatient(ctx, a.PatientID); err != nil {
		return err
	}
	a.Active = true
	return s.repo.Create(ctx, a)
}

func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateAlert(ctx context.Context, a *Alert) error {
	if err := s.validate(a); err != nil {
		return err
	}
	return s.repo.Update(ctx, a)
}

// DeactivateAlert stops an alert from firing. Its dispatch history is kept.
func (s *Service) DeactivateAlert(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	a.Active = false
	return s.repo.Update(ctx, a)
}

func (s *Service) ListAlerts(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Alert, error) {
	return s.repo.ListByPatient(ctx, patientID, activeOnly)
}

func (s *Service) ListDispatches(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispatch, int, error) {
	return s.repo.ListDispatches(ctx, patientID, limit, offset)
}

// EvaluateReading fires the patient's reading alerts tripped by one reading.
// It returns the number of messages delivered.
func (s *Service) EvaluateReading(ctx context.Context, ev patient.ReadingEvent) (int, error) {
	r, err := s.patients.GetReading(ctx, ev.ReadingID)
	if err != nil {
		return 0, fmt.Errorf("get reading: %w", err)
	}
	p, err := s.patients.GetPatient(ctx, r.PatientID)
	if err != nil {
		return 0, fmt.Errorf("get patient: %w", err)
	}
	alerts, err := s.repo.ListByPatient(ctx, p.ID, true)
	if err != nil {
		return 0, fmt.Errorf("list alerts: %w", err)
	}

	sent := 0
	for _, a := range alerts {
		if !a.Matches(r.ValueMgDL) {
			continue
		}
		data := map[string]string{
			"patient_name": p.FullName(),
			"value":        strconv.Itoa(r.ValueMgDL),
			"taken_at":     r.TakenAt.UTC().Format("Jan 2 3:04 PM MST"),
			"threshold":    strconv.Itoa(a.Threshold),
		}
		readingID := r.ID
		sent += s.dispatch(ctx, a, p, &readingID, data)
	}
	return sent, nil
}

// EvaluateCompliance fires missed_readings alerts for patients without a
// reading in the alert's threshold days. An alert fires at most once per
// threshold window.
func (s *Service) EvaluateCompliance(ctx context.Context, now time.Time) (int, error) {
	alerts, err := s.repo.ListActiveByType(ctx, TypeMissedReadings)
	if err != nil {
		return 0, fmt.Errorf("list compliance alerts: %w", err)
	}

	var (
		mu   sync.Mutex
		sent int
		g    errgroup.Group
	)
	g.SetLimit(complianceWorkers)
	for _, a := range alerts {
		a := a
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := s.checkCompliance(ctx, a, now)
			if err != nil {
				s.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("compliance check failed")
				return nil
			}
			mu.Lock()
			sent += n
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	s.logger.Info().Int("alerts", len(alerts)).Int("sent", sent).Msg("compliance pass complete")
	return sent, err
}

func (s *Service) checkCompliance(ctx context.Context, a *Alert, now time.Time) (int, error) {
	window := now.AddDate(0, 0, -a.Threshold)
	latest, err := s.patients.LatestReadingAt(ctx, a.PatientID)
	if err != nil {
		return 0, err
	}
	if latest != nil && latest.After(window) {
		return 0, nil
	}
	last, err := s.repo.LastDispatchAt(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	if last != nil && last.After(window) {
		return 0, nil
	}
	p, err := s.patients.GetPatient(ctx, a.PatientID)
	if err != nil {
		return 0, err
	}
	if !p.Active {
		return 0, nil
	}
	data := map[string]string{
		"patient_name": p.FullName(),
		"threshold":    strconv.Itoa(a.Threshold),
	}
	return s.dispatch(ctx, a, p, nil, data), nil
}

// dispatch delivers the alert on each contact method and records every
// attempt. Failures are recorded and never retried.
func (s *Service) dispatch(ctx context.Context, a *Alert, p *patient.Patient, readingID *uuid.UUID, data map[string]string) int {
	msg, err := s.templates.Render(string(a.AlertType), data)
	if err != nil {
		s.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("render alert failed")
		return 0
	}
	if a.MessageOverride != "" {
		msg.Body = notification.Fill(a.MessageOverride, data)
	}

	to := a.Recipient(p)
	sent := 0
	for _, ch := range a.ContactMethods {
		res := s.sender.Send(ctx, ch, to, msg)
		d := &Dispatch{
			AlertID:   a.ID,
			PatientID: p.ID,
			ReadingID: readingID,
			Channel:   ch,
			Address:   res.Address,
			Subject:   msg.Subject,
			Body:      msg.Body,
			Status:    res.Status,
			Error:     res.Error,
			SentAt:    res.SentAt,
		}
		if err := s.repo.CreateDispatch(ctx, d); err != nil {
			s.logger.Error().Err(err).Str("alert_id", a.ID.String()).Str("channel", string(ch)).Msg("record dispatch failed")
		}
		if res.Status == notification.StatusSent {
			sent++
		}
	}
	s.logger.Info().
		Str("alert_id", a.ID.String()).
		Str("alert_type", string(a.AlertType)).
		Int("sent", sent).
		Int("attempted", len(a.ContactMethods)).
		Msg("alert dispatched")
	return sent
}

// RegisterJobs binds the alert jobs to r.
func (s *Service) RegisterJobs(r *jobs.Registry) {
	r.Register(jobs.EvaluateReading, func(ctx context.Context, payload json.RawMessage) error {
		var ev patient.ReadingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode reading event: %w", err)
		}
		_, err := s.EvaluateReading(ctx, ev)
		return err
	})
	r.Register(jobs.AlertCompliance, func(ctx context.Context, _ json.RawMessage) error {
		_, err := s.EvaluateCompliance(ctx, s.now())
		return err
	})
}
