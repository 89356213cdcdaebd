package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=10&offset=30", 10, 30},
		{"limit=5000", MaxLimit, 0},
		{"offset=-4", DefaultLimit, 0},
		{"page=3&page_size=10", 10, 20},
		{"page=2", DefaultLimit, DefaultLimit},
		{"page=0&page_size=15", 15, 0},
		{"limit=7&page=4", 7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestSQL(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 20}).SQL(); got != "LIMIT 10 OFFSET 20" {
		t.Errorf("unexpected SQL %q", got)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a"}, 50, 10, 0)
	if r.Total != 50 || !r.HasMore {
		t.Errorf("unexpected response %+v", r)
	}
	if NewResponse(nil, 10, 10, 0).HasMore {
		t.Error("expected HasMore=false on the last page")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if p.NextOffset() != 15 || p.PreviousOffset() != 0 || !p.HasPrevious() {
		t.Errorf("unexpected offsets for %+v", p)
	}
	if (Params{Limit: 10}).HasPrevious() {
		t.Error("first page has no previous")
	}
}

func TestResponse_WithLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/orders?status=problem&page=2&page_size=10")
	r := NewResponse(nil, 35, 10, 10).WithLinks(u)

	if r.Next != "/api/v1/orders?limit=10&offset=20&status=problem" {
		t.Errorf("unexpected next %q", r.Next)
	}
	if r.Previous != "/api/v1/orders?limit=10&offset=0&status=problem" {
		t.Errorf("unexpected previous %q", r.Previous)
	}

	last := NewResponse(nil, 35, 10, 30).WithLinks(u)
	if last.Next != "" {
		t.Errorf("expected no next link on last page, got %q", last.Next)
	}
}
