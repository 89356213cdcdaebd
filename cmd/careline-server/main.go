package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/jobs"
	"github.com/careline/careline/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "careline-server",
		Short:        "Careline diabetes care operations server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(apiUserCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig reads and validates the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume background jobs from Kafka and run the daily schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, db.WithApplicationName("careline-migrate"))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, db.WithApplicationName("careline-migrate"))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run background jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range jobNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run one job now, in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !knownJob(args[0]) {
				return fmt.Errorf("%w: %s", jobs.ErrUnknownJob, args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger, queueInline)
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := jobs.NewJob(args[0], nil)
			if err != nil {
				return err
			}
			if err := a.registry.Run(ctx, j); err != nil {
				return err
			}
			a.inline.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s completed.\n", args[0])
			return nil
		},
	})

	return cmd
}

func apiUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apiuser",
		Short: "Manage partner API credentials",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create partner API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, newLogger(cfg.Env), queueInline)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.epc.CreateAPIUser(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created API user %s (%s).\n", u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Partner login name")
	createCmd.Flags().String("password", "", "Partner password (at least 12 characters)")
	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	cfg, err := loadConfig()
	logger := newLogger(os.Getenv("ENV"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, cfg.JobQueue)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	e, err := a.echo()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	// With Kafka the worker owns the schedule.
	if cfg.JobQueue == queueInline {
		sched, err := newScheduler(cfg, a.queue, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid job schedule")
		}
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}
	if a.inline != nil {
		a.inline.Wait()
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	cfg, err := loadConfig()
	logger := newLogger(os.Getenv("ENV"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.JobQueue != queueKafka {
		return fmt.Errorf("worker requires JOB_QUEUE=kafka, got %q", cfg.JobQueue)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, queueKafka)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	group, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, jobs.NewSaramaConfig("careline-worker"))
	if err != nil {
		return fmt.Errorf("join consumer group: %w", err)
	}
	defer group.Close()

	sched, err := newScheduler(cfg, a.queue, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("topic", cfg.KafkaJobsTopic).Str("group", cfg.KafkaConsumerGroup).Msg("worker started")
	h := jobs.NewConsumerHandler(a.registry, logger, 10*time.Minute)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return jobs.Consume(gctx, group, cfg.KafkaJobsTopic, h)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}

func newScheduler(cfg *config.Config, queue jobs.Queue, logger zerolog.Logger) (*jobs.Scheduler, error) {
	loc, err := cfg.ScheduleLocation()
	if err != nil {
		return nil, err
	}
	return jobs.NewScheduler(queue, logger, loc, dailyJobs(cfg)...)
}

// dailyJobs lists the scheduled jobs. Times were validated by Config.Validate.
func dailyJobs(cfg *config.Config) []jobs.DailyJob {
	schedule := []struct {
		name string
		at   string
	}{
		{jobs.PopulateNursing, cfg.NursingQueueRunAt},
		{jobs.AlertCompliance, cfg.ComplianceRunAt},
		{jobs.ReadingReminders, cfg.ReminderRunAt},
		{jobs.WelcomeTexts, cfg.WelcomeRunAt},
	}
	out := make([]jobs.DailyJob, 0, len(schedule))
	for _, s := range schedule {
		h, m, err := config.ParseClock(s.at)
		if err != nil {
			continue
		}
		out = append(out, jobs.DailyJob{Name: s.name, Hour: h, Minute: m})
	}
	return out
}
