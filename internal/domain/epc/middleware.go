package epc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/careline/careline/internal/platform/auth"
)

const (
	apiUserKey     = "epc_api_user"
	transactionKey = "epc_transaction"
)

type transactionIDKey struct{}

func WithTransactionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, transactionIDKey{}, id)
}

// TransactionIDFromContext returns the api_transaction id of the partner call
// being served, if any.
func TransactionIDFromContext(ctx context.Context) *uuid.UUID {
	id, ok := ctx.Value(transactionIDKey{}).(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// BasicAuth authenticates partner calls against api_user and stores a
// partner Principal on the request context.
func (s *Service) BasicAuth() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "epc",
		Validator: func(username, password string, c echo.Context) (bool, error) {
			u, err := s.Authenticate(c.Request().Context(), username, password)
			if errors.Is(err, ErrInvalidCredentials) {
				s.logger.Warn().Str("username", username).Str("remote_ip", c.RealIP()).Msg("partner authentication failed")
				return false, nil
			}
			if err != nil {
				return false, err
			}
			c.Set(apiUserKey, u)
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{UserID: u.Username, Role: auth.RolePartner})
			c.SetRequest(c.Request().WithContext(ctx))
			return true, nil
		},
	})
}

// AuditTrail records every partner call in api_transaction, including ones
// rejected by authentication. The record is opened before the handler runs
// and completed with the raw request and response once they are written.
func (s *Service) AuditTrail() echo.MiddlewareFunc {
	dump := middleware.BodyDumpWithConfig(middleware.BodyDumpConfig{Handler: s.completeTransaction})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := dump(next)
		return func(c echo.Context) error {
			req := c.Request()
			t := &Transaction{Method: req.Method, Endpoint: req.URL.Path, RemoteIP: c.RealIP()}
			if err := s.creds.CreateTransaction(context.WithoutCancel(req.Context()), t); err != nil {
				s.logger.Error().Err(err).Str("endpoint", t.Endpoint).Msg("failed to open api transaction")
				t.ID = uuid.Nil
			} else {
				c.SetRequest(req.WithContext(WithTransactionID(req.Context(), t.ID)))
			}
			c.Set(transactionKey, t)
			return h(c)
		}
	}
}

func (s *Service) completeTransaction(c echo.Context, reqBody, resBody []byte) {
	t, ok := c.Get(transactionKey).(*Transaction)
	if !ok {
		return
	}
	t.RequestBody = string(reqBody)
	t.ResponseBody = string(resBody)
	t.StatusCode = c.Response().Status
	t.Success = t.StatusCode < http.StatusBadRequest
	if !t.Success {
		t.Error = errorText(resBody, t.StatusCode)
	}
	if u, ok := c.Get(apiUserKey).(*APIUser); ok {
		id := u.ID
		t.APIUserID = &id
		t.Username = u.Username
	} else if name, _, ok := c.Request().BasicAuth(); ok {
		t.Username = name
	}

	ctx := context.WithoutCancel(c.Request().Context())
	var err error
	if t.ID == uuid.Nil {
		err = s.creds.CreateTransaction(ctx, t)
	} else {
		err = s.creds.CompleteTransaction(ctx, t)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("endpoint", t.Endpoint).Int("status", t.StatusCode).Msg("failed to record api transaction")
	}
}

func errorText(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return http.StatusText(status)
}
