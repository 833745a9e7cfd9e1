package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arrangement-grading-service/internal/app"
	"arrangement-grading-service/internal/config"
	"arrangement-grading-service/internal/domain"
	"arrangement-grading-service/internal/grading"
	"arrangement-grading-service/internal/infra/memory"
	"arrangement-grading-service/internal/infra/postgres"
	"arrangement-grading-service/internal/infra/rabbitmq"
	infraredis "arrangement-grading-service/internal/infra/redis"
	transport "arrangement-grading-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the grading server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	policy, err := grading.ParsePolicy(cfg.Grading.Resolution)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var store memory.ArrangementStore = memory.NewStaticArrangementStore(sampleArrangements())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewArrangementStore(pool)
	}

	arrangementTTL := config.TTLDuration(cfg.Arrangement.TTL, 10*time.Minute)
	var arrangements app.ArrangementRepository
	var progress app.ProgressRepository
	if redisClient != nil {
		arrangements = infraredis.NewArrangementRepository(redisClient, store, arrangementTTL)
		progress = infraredis.NewProgressStore(redisClient, redisTTL)
	} else {
		arrangements = memory.NewArrangementRepository(store, arrangementTTL)
		progress = memory.NewProgressStore()
	}

	opts := []app.Option{app.WithPolicy(policy)}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, app.WithEventPublisher(publisher, cfg.RabbitMQ.Queue))
	}
	service := app.NewGradingService(arrangements, progress, opts...)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		slog.Info("starting grading service", "port", finalPort, "policy", string(policy))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.Config) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()})
	slog.SetDefault(slog.New(handler))
}

// sampleArrangements seeds the in-memory store when no database is configured.
func sampleArrangements() map[string]domain.QuestionArrangement {
	return map[string]domain.QuestionArrangement{
		"list-1": {
			ID:   "list-1",
			Name: "Lista 1",
			Groups: []domain.QuestionGroup{
				{ID: "A", QuestionIDs: []string{"a1", "a2"}, MinRequired: 1, PointsPerQuestion: 2},
				{ID: "B", QuestionIDs: []string{"b1"}, MinRequired: 1, PointsPerQuestion: 2},
				{ID: "C", QuestionIDs: []string{"c1"}, MinRequired: 1, PointsPerQuestion: 2},
				{ID: "D", QuestionIDs: []string{"d1", "d2"}, MinRequired: 1, PointsPerQuestion: 2},
			},
			Formula: domain.And(
				domain.Or(domain.GroupRef("A"), domain.GroupRef("B")),
				domain.Or(domain.GroupRef("C"), domain.GroupRef("D")),
			),
			MaxScore:     6,
			PassingScore: 4,
		},
	}
}
