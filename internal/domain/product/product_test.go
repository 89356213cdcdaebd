package product

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestBoxesForUnits(t *testing.T) {
	strips, _ := Lookup(CodeStrips)
	tests := []struct {
		units int
		want  int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{50, 1},
		{51, 2},
		{150, 3},
	}
	for _, tt := range tests {
		if got := strips.BoxesForUnits(tt.units); got != tt.want {
			t.Errorf("BoxesForUnits(%d) = %d, want %d", tt.units, got, tt.want)
		}
	}
}

func TestUnitsForBoxes(t *testing.T) {
	lancets, _ := Lookup(CodeLancets)
	if got := lancets.UnitsForBoxes(3); got != 300 {
		t.Errorf("expected 300, got %d", got)
	}
	if got := lancets.UnitsForBoxes(0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestBoxesForUnits_ZeroUnitsPerBox(t *testing.T) {
	p := ProductType{Code: "x"}
	if got := p.BoxesForUnits(3); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestAll_SortedByCode(t *testing.T) {
	all := All()
	if len(all) != len(catalog) {
		t.Fatalf("expected %d products, got %d", len(catalog), len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Code > all[i].Code {
			t.Errorf("not sorted at %d: %s > %s", i, all[i-1].Code, all[i].Code)
		}
	}
}

func TestOrderable_ExcludesBattery(t *testing.T) {
	for _, p := range Orderable() {
		if p.Code == CodeBattery {
			t.Error("battery should not be orderable")
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, ok := Lookup("nope"); ok {
		t.Error("expected unknown code to miss")
	}
}

func TestHandler_List(t *testing.T) {
	h := NewHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?orderable=true", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []ProductType
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(Orderable()) {
		t.Errorf("expected %d products, got %d", len(Orderable()), len(out))
	}
}

func TestHandler_Get(t *testing.T) {
	h := NewHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues(CodeMeter)

	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h := NewHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("unknown")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
