package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/battle"
	"quiz-battle-service/internal/config"
	"quiz-battle-service/internal/domain"
	"quiz-battle-service/internal/infra/memory"
	pgloader "quiz-battle-service/internal/infra/postgres"
	redisinfra "quiz-battle-service/internal/infra/redis"
	transport "quiz-battle-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the battle server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	var snapshots app.SnapshotStore
	if redisClient != nil {
		snapshots = redisinfra.NewSnapshotStore(redisClient, redisTTL)
	}

	settings := battle.Settings{
		MinParticipants: cfg.Battle.MinParticipants,
		MaxParticipants: cfg.Battle.MaxParticipants,
		WaitingTimeout:  config.Duration(cfg.Battle.WaitingTimeout, 2*time.Minute),
		ReadyCountdown:  config.Duration(cfg.Battle.ReadyCountdown, 3*time.Second),
		HeartbeatWindow: config.Duration(cfg.Battle.HeartbeatWindow, 15*time.Second),
	}
	clock := battle.NewSystemClock()
	scoring := battle.NewScoringEngine(cfg.Battle.ScoreFloor, cfg.Battle.QuestionLimitMs)
	retention := config.Duration(cfg.Battle.Retention, 5*time.Minute)
	registry := battle.NewRegistry(settings, clock, scoring, retention)

	service := app.NewBattleService(registry, questions, snapshots)
	defer service.Close()
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting battle service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides minimal demo content; swap the loader for the
// Postgres-backed one in production.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"set-1": {
			ID: "set-1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points:      100,
					LimitMillis: 10_000,
				},
				{
					ID:     "q2",
					Prompt: "Which planet is known as the Red Planet?",
					Options: []domain.Option{
						{ID: "o1", Text: "Venus", Correct: false},
						{ID: "o2", Text: "Mars", Correct: true},
						{ID: "o3", Text: "Jupiter", Correct: false},
					},
					Points:      100,
					LimitMillis: 10_000,
				},
			},
		},
	}
}
