package notification

import (
	"context"
	"errors"
	"sync"
)

// Call records one delivery made to a mock sender.
type Call struct {
	To      string
	Subject string
	Body    string
}

type mockRecorder struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

func (m *mockRecorder) record(c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *mockRecorder) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockEmailSender is a test double for EmailSender. Also used when SMTP is not
// configured in development.
type MockEmailSender struct{ mockRecorder }

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	return m.record(Call{To: to, Subject: subject, Body: body})
}

type MockSMSSender struct{ mockRecorder }

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	return m.record(Call{To: to, Body: body})
}

type MockPushSender struct{ mockRecorder }

func (m *MockPushSender) SendPush(_ context.Context, deviceToken, title, body string) error {
	return m.record(Call{To: deviceToken, Subject: title, Body: body})
}
