package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	client *resty.Client
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-Api-Key", cfg.APIKey)
	return &HTTPClient{client: c}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e apiError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, result interface{}) error {
	apiErr := &apiError{}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("carrier %s: %w", path, err)
	}
	if resp.IsError() {
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode())
		}
		return fmt.Errorf("carrier %s: %w", path, apiErr)
	}
	return nil
}

type ratesResponse struct {
	Rates []Rate `json:"rates"`
}

func (c *HTTPClient) Rates(ctx context.Context, req RateRequest) ([]Rate, error) {
	out := &ratesResponse{}
	if err := c.post(ctx, "/v1/rates", req, out); err != nil {
		return nil, err
	}
	return out.Rates, nil
}

type cleanseResponse struct {
	Address         Address `json:"address"`
	AddressMatch    bool    `json:"address_match"`
	CityStateZipOK  bool    `json:"city_state_zip_ok"`
	CandidateReason string  `json:"reason,omitempty"`
}

func (c *HTTPClient) CleanseAddress(ctx context.Context, addr Address) (Address, error) {
	out := &cleanseResponse{}
	if err := c.post(ctx, "/v1/addresses/cleanse", addr, out); err != nil {
		return Address{}, err
	}
	if !out.AddressMatch && !out.CityStateZipOK {
		reason := out.CandidateReason
		if reason == "" {
			reason = "address not recognized"
		}
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, reason)
	}
	return out.Address, nil
}

func (c *HTTPClient) CreateLabel(ctx context.Context, req LabelRequest) (*Label, error) {
	out := &Label{}
	if err := c.post(ctx, "/v1/labels", req, out); err != nil {
		return nil, err
	}
	if out.TrackingNumber == "" {
		return nil, fmt.Errorf("carrier /v1/labels: response missing tracking number")
	}
	return out, nil
}

func (c *HTTPClient) DownloadLabel(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.client.R().SetContext(ctx).SetHeader("Accept", "*/*").Get(url)
	if err != nil {
		return nil, fmt.Errorf("download label: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download label: unexpected status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
