package nursing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/auth"
)

func newContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "nurse-1", Role: auth.RoleProfessional}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_ListEntries(t *testing.T) {
	env := newTestEnv()
	env.seedEntry(t)
	h := NewHandler(env.svc)
	e := echo.New()

	c, rec := newContext(e, http.MethodGet, "/nursing-queue?nursing_group_id="+env.group.String(), "")
	if err := h.ListEntries(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Entry `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("expected 1 entry, got %+v", body)
	}

	c, _ = newContext(e, http.MethodGet, "/nursing-queue?patient_id=nope", "")
	err := h.ListEntries(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Complete(t *testing.T) {
	env := newTestEnv()
	entry := env.seedEntry(t)
	h := NewHandler(env.svc)
	e := echo.New()

	c, rec := newContext(e, http.MethodPost, "/", `{"note":"spoke with patient"}`)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())
	if err := h.Complete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Completed || got.CompletedBy != "nurse-1" {
		t.Errorf("unexpected entry: %+v", got)
	}

	c, _ = newContext(e, http.MethodPost, "/", `{}`)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())
	err := h.Complete(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Reschedule(t *testing.T) {
	env := newTestEnv()
	entry := env.seedEntry(t)
	h := NewHandler(env.svc)
	e := echo.New()

	c, _ := newContext(e, http.MethodPost, "/", `{"due_date":"03/20/2025"}`)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())
	err := h.Reschedule(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %v", err)
	}

	c, rec := newContext(e, http.MethodPost, "/", `{"due_date":"2025-03-20"}`)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())
	if err := h.Reschedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Run(t *testing.T) {
	env := newTestEnv()
	env.addPatient(notEnough(7, 1))
	h := NewHandler(env.svc)
	e := echo.New()

	c, rec := newContext(e, http.MethodPost, "/nursing-queue/run", "")
	if err := h.Run(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res RunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 {
		t.Errorf("expected 1 created, got %+v", res)
	}
}
