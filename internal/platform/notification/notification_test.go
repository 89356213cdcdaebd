package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	msg, err := e.Render("reading_too_high", map[string]string{
		"patient_name": "Ann Lee",
		"value":        "312",
		"taken_at":     "08:15",
		"threshold":    "250",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "High blood glucose reading" {
		t.Errorf("unexpected subject: %q", msg.Subject)
	}
	want := "Ann Lee recorded a blood glucose reading of 312 mg/dL at 08:15, above the alert level of 250 mg/dL."
	if msg.Body != want {
		t.Errorf("unexpected body:\n got %q\nwant %q", msg.Body, want)
	}
}

func TestTemplateEngine_MissingKeyLeftAsIs(t *testing.T) {
	msg, err := NewTemplateEngine().Render("missed_readings", map[string]string{"patient_name": "Ann"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(msg.Body, "{{threshold}}") {
		t.Errorf("expected placeholder to remain, got %q", msg.Body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	if _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_Register(t *testing.T) {
	e := NewTemplateEngine()
	e.Register(Template{ID: "reading_too_high", Subject: "Hi", Body: "Value {{value}}"})
	msg, _ := e.Render("reading_too_high", map[string]string{"value": "300"})
	if msg.Body != "Value 300" {
		t.Errorf("expected override, got %q", msg.Body)
	}
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	email, sms, push := &MockEmailSender{}, &MockSMSSender{}, &MockPushSender{}
	d := NewDispatcher(email, sms, push, zerolog.Nop())
	to := Recipient{Name: "Ann", Phone: "+15550001111", Email: "ann@example.com", DeviceToken: "ExponentPushToken[abc]"}
	msg := Message{Subject: "S", Body: "B"}

	for _, ch := range []Channel{ChannelSMS, ChannelEmail, ChannelPush} {
		res := d.Send(context.Background(), ch, to, msg)
		if res.Status != StatusSent || res.SentAt == nil {
			t.Errorf("%s: expected sent, got %+v", ch, res)
		}
	}
	if len(sms.Calls()) != 1 || sms.Calls()[0].To != "+15550001111" {
		t.Errorf("unexpected sms calls: %+v", sms.Calls())
	}
	if len(email.Calls()) != 1 || email.Calls()[0].Subject != "S" {
		t.Errorf("unexpected email calls: %+v", email.Calls())
	}
	if len(push.Calls()) != 1 || push.Calls()[0].To != "ExponentPushToken[abc]" {
		t.Errorf("unexpected push calls: %+v", push.Calls())
	}
}

func TestDispatcher_FailureIsRecorded(t *testing.T) {
	sms := &MockSMSSender{}
	sms.ShouldFail = true
	sms.FailError = "carrier rejected"
	d := NewDispatcher(nil, sms, nil, zerolog.Nop())

	res := d.Send(context.Background(), ChannelSMS, Recipient{Phone: "+1555"}, Message{Body: "B"})
	if res.Status != StatusFailed || res.Error != "carrier rejected" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sms.Calls()) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(sms.Calls()))
	}
}

func TestDispatcher_MissingAddress(t *testing.T) {
	d := NewDispatcher(&MockEmailSender{}, nil, nil, zerolog.Nop())
	res := d.Send(context.Background(), ChannelEmail, Recipient{Name: "Ann"}, Message{Body: "B"})
	if res.Status != StatusFailed || res.Error != ErrNoAddress.Error() {
		t.Errorf("unexpected result: %+v", res)
	}

	res = d.Send(context.Background(), ChannelPush, Recipient{DeviceToken: "tok"}, Message{Body: "B"})
	if res.Status != StatusFailed {
		t.Errorf("expected unconfigured push to fail, got %+v", res)
	}
}

func TestTwilioSender_SendSMS(t *testing.T) {
	var gotPath, gotTo, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok", From: "+15550000000"})
	if err := s.SendSMS(context.Background(), "+15551112222", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Messages.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" || gotTo != "+15551112222" || gotBody != "hello" {
		t.Errorf("unexpected request: user=%q to=%q body=%q", gotUser, gotTo, gotBody)
	}
}

func TestTwilioSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", PerSecond: 5})
	err := s.SendSMS(context.Background(), "bad", "hello")
	var apiErr *twilioError
	if !errors.As(err, &apiErr) || apiErr.Code != 21211 {
		t.Fatalf("expected twilio error 21211, got %v", err)
	}
}

func TestExpoSender_SendPush(t *testing.T) {
	var got []expoMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}))
	defer srv.Close()

	if err := NewExpoSender(srv.URL, "").SendPush(context.Background(), "tok-1", "Title", "Body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].To != "tok-1" || got[0].Body != "Body" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestExpoSender_TicketError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"status":"error","message":"DeviceNotRegistered"}]}`))
	}))
	defer srv.Close()

	err := NewExpoSender(srv.URL, "").SendPush(context.Background(), "tok-1", "T", "B")
	if err == nil || !strings.Contains(err.Error(), "DeviceNotRegistered") {
		t.Fatalf("expected DeviceNotRegistered error, got %v", err)
	}
}

func TestSMTPSender_BuildsMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "alerts@careline.example"})

	var sent *mail.Msg
	s.send = func(_ context.Context, m *mail.Msg) error {
		sent = m
		return nil
	}

	if err := s.SendEmail(context.Background(), "nurse@example.com", "Low\r\nreading", "body text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent == nil {
		t.Fatal("expected message to be sent")
	}
	var buf bytes.Buffer
	if _, err := sent.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	msg := buf.String()
	for _, want := range []string{"nurse@example.com", "alerts@careline.example", "Subject: Lowreading\r\n", "body text"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message:\n%s", want, msg)
		}
	}
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "alerts@careline.example"})
	s.send = func(context.Context, *mail.Msg) error {
		t.Error("message must not be sent")
		return nil
	}

	err := s.SendEmail(context.Background(), "a@b.com\r\nBcc: spy@evil.com", "Hi", "body")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestCheckEmail(t *testing.T) {
	for addr, ok := range map[string]bool{
		"nurse@example.com":          true,
		"":                           false,
		"not-an-address":             false,
		"Nurse <nurse@example.com>":  false,
		"a@b.com\r\nBcc: x@evil.com": false,
	} {
		if err := CheckEmail(addr); (err == nil) != ok {
			t.Errorf("CheckEmail(%q) = %v, want ok=%v", addr, err, ok)
		}
	}
}
