package notification

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ExpoSender posts to an Expo-style push API.
type ExpoSender struct {
	url    string
	client *resty.Client
}

func NewExpoSender(url, accessToken string) *ExpoSender {
	c := resty.New().SetHeader("Accept", "application/json")
	if accessToken != "" {
		c.SetAuthToken(accessToken)
	}
	return &ExpoSender{url: url, client: c}
}

type expoMessage struct {
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *ExpoSender) SendPush(ctx context.Context, deviceToken, title, body string) error {
	out := &expoResponse{}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody([]expoMessage{{To: deviceToken, Title: title, Body: body, Sound: "default"}}).
		SetResult(out).
		SetError(out).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	if resp.IsError() {
		if len(out.Errors) > 0 {
			return fmt.Errorf("send push: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
		}
		return fmt.Errorf("send push: unexpected status %d", resp.StatusCode())
	}
	for _, t := range out.Data {
		if t.Status == "error" {
			return fmt.Errorf("send push: %s", t.Message)
		}
	}
	return nil
}
