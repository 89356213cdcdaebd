// Package carrier talks to the postage provider for rates, address cleansing
// and labels.
package carrier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNoRate         = errors.New("no rate for shipping class")
)

type Address struct {
	Name     string `json:"name"`
	Company  string `json:"company,omitempty"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	Phone    string `json:"phone,omitempty"`
}

var (
	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	statePattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Validate checks the fields the carrier requires before any remote call.
func (a Address) Validate() error {
	var missing []string
	for field, v := range map[string]string{
		"name": a.Name, "address1": a.Address1, "city": a.City, "state": a.State, "zip": a.Zip,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	if !statePattern.MatchString(a.State) {
		return fmt.Errorf("%w: state must be a two-letter code, got %q", ErrInvalidAddress, a.State)
	}
	if !zipPattern.MatchString(a.Zip) {
		return fmt.Errorf("%w: zip must be 5 digits or ZIP+4, got %q", ErrInvalidAddress, a.Zip)
	}
	if a.Country != "" && a.Country != "US" {
		return fmt.Errorf("%w: only US addresses are supported", ErrInvalidAddress)
	}
	return nil
}

// Normalize trims whitespace, upper-cases the state and defaults the country.
func (a Address) Normalize() Address {
	trim := strings.TrimSpace
	a.Name, a.Company = trim(a.Name), trim(a.Company)
	a.Address1, a.Address2 = trim(a.Address1), trim(a.Address2)
	a.City, a.Zip, a.Phone = trim(a.City), trim(a.Zip), trim(a.Phone)
	a.State = strings.ToUpper(trim(a.State))
	if a.Country == "" {
		a.Country = "US"
	}
	return a
}

type Package struct {
	WeightOz    decimal.Decimal `json:"weight_oz"`
	PackageType string          `json:"package_type"`
	ShipDate    time.Time       `json:"ship_date"`
}

type RateRequest struct {
	From    Address `json:"from"`
	To      Address `json:"to"`
	Package Package `json:"package"`
}

type Rate struct {
	ShippingClass string          `json:"shipping_class"`
	PackageType   string          `json:"package_type"`
	Amount        decimal.Decimal `json:"amount"`
	DeliveryDays  int             `json:"delivery_days"`
}

type LabelRequest struct {
	RateRequest
	ShippingClass string `json:"shipping_class"`
	Reference     string `json:"reference,omitempty"`
}

type Label struct {
	TrackingNumber string          `json:"tracking_number"`
	LabelURL       string          `json:"label_url"`
	Amount         decimal.Decimal `json:"amount"`
}

// Client is the carrier API. Failures are returned as-is; callers decide
// whether to surface or log them.
type Client interface {
	Rates(ctx context.Context, req RateRequest) ([]Rate, error)
	CleanseAddress(ctx context.Context, addr Address) (Address, error)
	CreateLabel(ctx context.Context, req LabelRequest) (*Label, error)
	DownloadLabel(ctx context.Context, url string) ([]byte, error)
}

// FilterRates keeps rates whose class is in classes, preserving order.
func FilterRates(rates []Rate, classes ...string) []Rate {
	allowed := make(map[string]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}
	var out []Rate
	for _, r := range rates {
		if allowed[r.ShippingClass] {
			out = append(out, r)
		}
	}
	return out
}

// PickRate returns the cheapest rate for class.
func PickRate(rates []Rate, class string) (Rate, error) {
	var best *Rate
	for i := range rates {
		r := &rates[i]
		if r.ShippingClass != class {
			continue
		}
		if best == nil || r.Amount.LessThan(best.Amount) {
			best = r
		}
	}
	if best == nil {
		return Rate{}, fmt.Errorf("%w %q", ErrNoRate, class)
	}
	return *best, nil
}
