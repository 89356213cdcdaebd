// Package jobs runs named background tasks, either in-process or through a
// Kafka topic consumed by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EvaluateReading  = "alerts.evaluate_reading"
	AlertCompliance  = "alerts.compliance"
	PopulateNursing  = "nursing.populate_queue"
	WelcomeTexts     = "patients.welcome_texts"
	ReadingReminders = "patients.reading_reminders"
)

var ErrUnknownJob = errors.New("unknown job")

// Job is the envelope put on the queue.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewJob(name string, payload interface{}) (Job, error) {
	j := Job{ID: uuid.NewString(), Name: name, EnqueuedAt: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Job{}, fmt.Errorf("encode %s payload: %w", name, err)
		}
		j.Payload = raw
	}
	return j, nil
}

// Queue accepts jobs for later execution.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload interface{}) error
}

// HandlerFunc executes one job. The payload is the raw JSON given to Enqueue.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Registry maps job names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes the handler for j.
func (r *Registry) Run(ctx context.Context, j Job) error {
	r.mu.RLock()
	h, ok := r.handlers[j.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, j.Name)
	}
	return h(ctx, j.Payload)
}
