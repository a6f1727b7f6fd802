package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/battle"
	"quiz-battle-service/internal/domain"
	pgloader "quiz-battle-service/internal/infra/postgres"
	pgmigrations "quiz-battle-service/internal/infra/postgres/migrations"
	infraredis "quiz-battle-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestBattleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestionSet(t, ctx, pgURL, sampleSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuestionLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	questions := infraredis.NewQuestionRepository(redisClient, loader, 5*time.Minute)
	snapshots := infraredis.NewSnapshotStore(redisClient, 5*time.Minute)

	settings := battle.Settings{
		MinParticipants: 2,
		MaxParticipants: 4,
		WaitingTimeout:  time.Minute,
		HeartbeatWindow: time.Minute,
	}
	registry := battle.NewRegistry(settings, battle.NewSystemClock(), battle.NewScoringEngine(0.2, 10_000), time.Minute)
	service := app.NewBattleService(registry, questions, snapshots)
	defer service.Close()

	if err := service.JoinRoom(ctx, "room-1", "set-1", "u1"); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if err := service.JoinRoom(ctx, "room-1", "set-1", "u2"); err != nil {
		t.Fatalf("join u2: %v", err)
	}
	if err := service.StartRoom(ctx, "room-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := service.SubmitAnswer(ctx, "room-1", domain.Submission{
		ParticipantID: "u1", QuestionID: "q1", OptionID: "o2", ElapsedMillis: 2_000,
	})
	if err != nil {
		t.Fatalf("submit u1: %v", err)
	}
	if !result.Accepted || result.ScoreDelta != 80 {
		t.Fatalf("expected accepted delta 80, got %+v", result)
	}
	if _, err := service.SubmitAnswer(ctx, "room-1", domain.Submission{
		ParticipantID: "u2", QuestionID: "q1", OptionID: "o1", ElapsedMillis: 3_000,
	}); err != nil {
		t.Fatalf("submit u2: %v", err)
	}

	state, _, err := service.RoomStatus(ctx, "room-1")
	if err != nil || state != domain.RoomFinished {
		t.Fatalf("expected FINISHED after the only question, got %s err=%v", state, err)
	}

	snap, ok, err := snapshots.Load(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("load snapshot: ok=%v err=%v", ok, err)
	}
	if snap.State != domain.RoomFinished {
		t.Fatalf("expected persisted FINISHED state, got %+v", snap)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("expected both participants persisted, got %+v", snap.Participants)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "battle", "POSTGRES_PASSWORD": "battlepass", "POSTGRES_DB": "battledb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://battle:battlepass@%s:%s/battledb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestionSet(t *testing.T, ctx context.Context, dsn string, set domain.QuestionSet) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_sets (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, set.ID, string(data)); err != nil {
		t.Fatalf("insert set: %v", err)
	}
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
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
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
