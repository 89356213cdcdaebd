package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DailyJob enqueues Name once a day at Hour:Minute in the scheduler's location.
type DailyJob struct {
	Name   string
	Hour   int
	Minute int
}

// Spec is the crontab expression for the job's daily run.
func (d DailyJob) Spec() string {
	return fmt.Sprintf("%d %d * * *", d.Minute, d.Hour)
}

// Scheduler enqueues periodic jobs on fixed crontab schedules.
type Scheduler struct {
	queue   Queue
	logger  zerolog.Logger
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
}

func NewScheduler(queue Queue, logger zerolog.Logger, loc *time.Location, jobs ...DailyJob) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		queue:   queue,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID, len(jobs)),
		ctx:     context.Background(),
	}
	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, j := range jobs {
		if j.Hour < 0 || j.Hour > 23 || j.Minute < 0 || j.Minute > 59 {
			return nil, fmt.Errorf("invalid schedule for %s: %02d:%02d", j.Name, j.Hour, j.Minute)
		}
		name := j.Name
		id, err := s.cron.AddFunc(j.Spec(), func() { s.enqueue(name) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
		s.entries[name] = id
	}
	return s, nil
}

// Next returns the next run of the named job after t, or the zero time when
// the job is not scheduled.
func (s *Scheduler) Next(name string, t time.Time) time.Time {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Schedule.Next(t)
}

func (s *Scheduler) enqueue(name string) {
	if err := s.queue.Enqueue(s.ctx, name, nil); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("enqueue scheduled job")
		return
	}
	s.logger.Info().Str("job", name).Msg("scheduled job enqueued")
}

// Run blocks until ctx is cancelled, then waits for running enqueues.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
