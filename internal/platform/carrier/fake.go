package carrier

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Fake is an in-memory Client for tests and local development.
type Fake struct {
	mu sync.Mutex

	RateList   []Rate
	RatesErr   error
	CleanseErr error
	LabelErr   error
	LabelBytes []byte

	RateCalls  []RateRequest
	LabelCalls []LabelRequest
	labels     int
}

func (f *Fake) Rates(_ context.Context, req RateRequest) ([]Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RateCalls = append(f.RateCalls, req)
	if f.RatesErr != nil {
		return nil, f.RatesErr
	}
	out := make([]Rate, len(f.RateList))
	copy(out, f.RateList)
	return out, nil
}

func (f *Fake) CleanseAddress(_ context.Context, addr Address) (Address, error) {
	if f.CleanseErr != nil {
		return Address{}, f.CleanseErr
	}
	return addr.Normalize(), nil
}

func (f *Fake) CreateLabel(_ context.Context, req LabelRequest) (*Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LabelCalls = append(f.LabelCalls, req)
	if f.LabelErr != nil {
		return nil, f.LabelErr
	}
	f.labels++
	var amount decimal.Decimal
	if r, err := PickRate(f.RateList, req.ShippingClass); err == nil {
		amount = r.Amount
	}
	return &Label{
		TrackingNumber: fmt.Sprintf("9400100000000000%06d", f.labels),
		LabelURL:       fmt.Sprintf("https://labels.example.test/%d.pdf", f.labels),
		Amount:         amount,
	}, nil
}

func (f *Fake) DownloadLabel(_ context.Context, url string) ([]byte, error) {
	if f.LabelBytes == nil {
		return []byte("%PDF-1.4 " + url), nil
	}
	return f.LabelBytes, nil
}
