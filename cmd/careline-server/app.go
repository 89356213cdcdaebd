package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/Shopify/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/domain/alert"
	"github.com/careline/careline/internal/domain/epc"
	"github.com/careline/careline/internal/domain/nursing"
	"github.com/careline/careline/internal/domain/order"
	"github.com/careline/careline/internal/domain/patient"
	"github.com/careline/careline/internal/domain/product"
	"github.com/careline/careline/internal/domain/shipment"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/blobstore"
	"github.com/careline/careline/internal/platform/carrier"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/jobs"
	"github.com/careline/careline/internal/platform/middleware"
	"github.com/careline/careline/internal/platform/notification"
)

const (
	queueInline = "inline"
	queueKafka  = "kafka"
)

var registeredJobs = []string{
	jobs.EvaluateReading,
	jobs.AlertCompliance,
	jobs.PopulateNursing,
	jobs.WelcomeTexts,
	jobs.ReadingReminders,
}

func jobNames() []string {
	return append([]string(nil), registeredJobs...)
}

func knownJob(name string) bool {
	for _, n := range registeredJobs {
		if n == name {
			return true
		}
	}
	return false
}

// app holds the wired services shared by serve, worker and the admin
// commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	registry *jobs.Registry
	queue    jobs.Queue
	inline   *jobs.InlineQueue
	producer sarama.SyncProducer

	patients  *patient.Service
	orders    *order.Service
	shipments *shipment.Service
	epc       *epc.Service
	nursing   *nursing.Service
	alerts    *alert.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, queueKind string) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, db.WithApplicationName("careline-server"))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, pool: pool, registry: jobs.NewRegistry()}

	switch queueKind {
	case queueKafka:
		producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, jobs.NewSaramaConfig("careline-server"))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to kafka: %w", err)
		}
		a.producer = producer
		a.queue = jobs.NewKafkaQueue(producer, cfg.KafkaJobsTopic)
	default:
		a.inline = jobs.NewInlineQueue(a.registry, logger)
		a.queue = a.inline
	}

	labels, err := newLabelStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	tx := db.NewTransactor(pool)
	templates := notification.NewTemplateEngine()
	dispatcher := newDispatcher(cfg, logger)

	a.patients = patient.NewService(patient.NewPatientRepoPG(pool), patient.NewReadingRepoPG(pool), a.queue, dispatcher, templates, logger)
	a.orders = order.NewService(order.NewRepoPG(pool), tx, logger)
	a.shipments = shipment.NewService(shipment.NewRepoPG(pool), a.orders, a.patients, newCarrier(cfg), labels, tx,
		shipment.Config{
			From: carrier.Address{
				Name:     cfg.ShipFromName,
				Address1: cfg.ShipFromAddress1,
				City:     cfg.ShipFromCity,
				State:    cfg.ShipFromState,
				Zip:      cfg.ShipFromZip,
			},
			EnabledClasses: cfg.CarrierEnabledClasses,
		}, logger)
	a.epc = epc.NewService(epc.NewRepoPG(pool), epc.NewCredentialRepoPG(pool), a.orders, a.patients, tx, logger)
	a.nursing = nursing.NewService(nursing.NewRepoPG(pool), a.patients, tx, cfg.NursingWorkers, logger)
	a.alerts = alert.NewService(alert.NewRepoPG(pool), a.patients, dispatcher, templates, logger)

	a.patients.RegisterJobs(a.registry)
	a.nursing.RegisterJobs(a.registry)
	a.alerts.RegisterJobs(a.registry)
	return a, nil
}

func (a *app) Close() {
	if a.inline != nil {
		a.inline.Wait()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close kafka producer")
		}
	}
	a.pool.Close()
}

// echo builds the HTTP router with the middleware chain and every route.
func (a *app) echo() (*echo.Echo, error) {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger, cfg.DebugErrors)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(key))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats { return db.GetPoolStats(a.pool) }))

	api := e.Group("/api/v1")
	product.NewHandler().RegisterRoutes(api)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	order.NewHandler(a.orders).RegisterRoutes(api)
	shipment.NewHandler(a.shipments).RegisterRoutes(api)
	nursing.NewHandler(a.nursing).RegisterRoutes(api)
	alert.NewHandler(a.alerts).RegisterRoutes(api)

	epcHandler := epc.NewHandler(a.epc)
	epcHandler.RegisterRoutes(api)
	epcHandler.RegisterPartnerRoutes(e)
	return e, nil
}

func signingKey(cfg *config.Config) ([]byte, error) {
	if cfg.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(cfg.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// newDispatcher wires the configured channel senders. In development an
// unconfigured channel records messages instead of failing them.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) *notification.Dispatcher {
	var (
		email notification.EmailSender
		sms   notification.SMSSender
		push  notification.PushSender
	)
	switch {
	case cfg.SMTPHost != "":
		email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	case cfg.IsDev():
		email = &notification.MockEmailSender{}
	}
	switch {
	case cfg.SMSAPIURL != "":
		sms = notification.NewTwilioSender(notification.TwilioConfig{
			BaseURL:    cfg.SMSAPIURL,
			AccountSID: cfg.SMSAccountSID,
			AuthToken:  cfg.SMSAuthToken,
			From:       cfg.SMSFrom,
			PerSecond:  cfg.SMSRatePerSecond,
		})
	case cfg.IsDev():
		sms = &notification.MockSMSSender{}
	}
	switch {
	case cfg.PushAccessToken != "":
		push = notification.NewExpoSender(cfg.PushAPIURL, cfg.PushAccessToken)
	case cfg.IsDev():
		push = &notification.MockPushSender{}
	}
	return notification.NewDispatcher(email, sms, push, logger)
}

func newCarrier(cfg *config.Config) carrier.Client {
	return carrier.NewHTTPClient(carrier.HTTPConfig{BaseURL: cfg.CarrierAPIURL, APIKey: cfg.CarrierAPIKey})
}

// newLabelStore returns nil when no bucket is configured; labels are then
// not archived.
func newLabelStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.LabelBucket == "" {
		if cfg.IsDev() {
			return blobstore.NewInMemoryBlobStore(), nil
		}
		return nil, nil
	}
	s, err := blobstore.NewS3BlobStore(ctx, blobstore.S3Config{Bucket: cfg.LabelBucket, Region: cfg.AWSRegion})
	if err != nil {
		return nil, fmt.Errorf("label store: %w", err)
	}
	return s, nil
}
