package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a canned subject and body with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtIn {
		e.templates[t.ID] = t
	}
	return e
}

var builtIn = []Template{
	{
		ID:      "reading_too_high",
		Subject: "High blood glucose reading",
		Body:    "{{patient_name}} recorded a blood glucose reading of {{value}} mg/dL at {{taken_at}}, above the alert level of {{threshold}} mg/dL.",
	},
	{
		ID:      "reading_too_low",
		Subject: "Low blood glucose reading",
		Body:    "{{patient_name}} recorded a blood glucose reading of {{value}} mg/dL at {{taken_at}}, below the alert level of {{threshold}} mg/dL.",
	},
	{
		ID:      "missed_readings",
		Subject: "Missed blood glucose readings",
		Body:    "{{patient_name}} has not recorded a blood glucose reading in the last {{threshold}} days.",
	},
	{
		ID:      "welcome",
		Subject: "Welcome to Careline",
		Body:    "Hi {{patient_name}}, welcome to Careline! Your meter sends readings automatically. Reply STOP to opt out of texts.",
	},
	{
		ID:      "reading_reminder",
		Subject: "Time to check your blood glucose",
		Body:    "Hi {{patient_name}}, we haven't received a reading from you today. Please check your blood glucose when you can.",
	},
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) Has(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.templates[id]
	return ok
}

// Render fills the template with data. Placeholders without a value are left
// as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (Message, error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("template %q not found", id)
	}
	return Message{Subject: Fill(t.Subject, data), Body: Fill(t.Body, data)}, nil
}

// Fill replaces {{key}} placeholders in s.
func Fill(s string, data map[string]string) string {
	for k, v := range data {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
