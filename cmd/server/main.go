package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rally/internal/audit"
	"rally/internal/challenge/handler"
	"rally/internal/challenge/metrics"
	"rally/internal/challenge/saga"
	"rally/internal/challenge/service"
	challengestore "rally/internal/challenge/store/challenge"
	taskstore "rally/internal/challenge/store/task"
	groupmodels "rally/internal/group/models"
	groupstore "rally/internal/group/store"
	"rally/internal/jwttoken"
	membermodels "rally/internal/member/models"
	memberstore "rally/internal/member/store"
	"rally/internal/notify"
	"rally/internal/platform/config"
	"rally/internal/platform/httpserver"
	"rally/internal/platform/kafka"
	"rally/internal/platform/logger"
	platformredis "rally/internal/platform/redis"
	"rally/internal/storage"
	id "rally/pkg/domain"
	adminmw "rally/pkg/platform/middleware/admin"
	"rally/pkg/platform/sentinel"
)

// stores groups the per-feature persistence behind the composite interfaces
// the service and saga consume, so memory and postgres wire identically.
type stores struct {
	challenges interface {
		service.ChallengeStore
		saga.ChallengeRemover
	}
	tasks interface {
		service.TaskStore
		saga.TaskStore
	}
	groups interface {
		service.GroupStore
		saga.GroupStore
		Create(ctx context.Context, group *groupmodels.Group) error
	}
	members interface {
		service.MemberStore
		saga.MemberStore
		Create(ctx context.Context, member *membermodels.Member) error
	}
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	if cfg.PublicGroupID != "" {
		publicID, err := id.ParseGroupID(cfg.PublicGroupID)
		if err != nil {
			log.Error("invalid PUBLIC_GROUP_ID", "error", err)
			os.Exit(1)
		}
		groupmodels.DefaultGroupID = publicID
	}

	var st stores
	var db *sql.DB
	if cfg.Postgres.URL != "" {
		var err error
		db, err = storage.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := storage.EnsureSchema(ctx, db); err != nil {
			log.Error("schema bootstrap failed", "error", err)
			os.Exit(1)
		}
		st = stores{
			challenges: challengestore.NewPostgres(db),
			tasks:      taskstore.NewPostgres(db),
			groups:     groupstore.NewPostgres(db),
			members:    memberstore.NewPostgres(db),
		}
		log.Info("using postgres stores")
	} else {
		st = stores{
			challenges: challengestore.NewInMemory(),
			tasks:      taskstore.NewInMemory(),
			groups:     groupstore.NewInMemory(),
			members:    memberstore.NewInMemory(),
		}
		log.Warn("POSTGRES_URL not set, using in-memory stores")
	}

	if err := ensurePublicGroup(ctx, st); err != nil {
		log.Error("public group bootstrap failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var guard notify.SendGuard
	if redisClient != nil {
		defer redisClient.Close()
		guard = notify.NewRedisGuard(redisClient, 0)
		log.Info("notification guard backed by redis")
	} else {
		guard = notify.NewMemoryGuard()
		log.Warn("REDIS_URL not set, notification guard is in-process only")
	}
	notifier := notify.NewNotifier(
		&notify.LogEmailSender{Logger: log},
		&notify.LogPushSender{Logger: log},
		guard, log,
	)

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Error("kafka connection failed", "error", err)
		os.Exit(1)
	}
	auditOpts := []audit.Option{audit.WithAsyncBuffer(256), audit.WithLogger(log)}
	if producer != nil {
		defer producer.Close()
		auditOpts = append(auditOpts, audit.WithSink(producer))
		log.Info("audit events forwarded to kafka", "topic", cfg.Kafka.AuditTopic)
	}
	auditor := audit.NewPublisher(audit.NewInMemoryStore(), auditOpts...)
	defer auditor.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	teardown := saga.NewTeardown(st.challenges, st.tasks, st.groups, st.members,
		saga.WithNotifier(notifier),
		saga.WithAuditPublisher(auditor),
		saga.WithMetrics(m),
		saga.WithLogger(log),
	)
	dispatcher := saga.NewDispatcher(teardown, 256,
		saga.WithDispatcherLogger(log),
		saga.WithDispatcherMetrics(m),
	)

	svc := service.New(st.challenges, st.tasks, st.groups, st.members, dispatcher,
		service.WithLogger(log),
		service.WithAuditPublisher(auditor),
		service.WithMetrics(m),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "rally")
	validator := jwttoken.NewJWTServiceAdapter(jwtService)

	router := chi.NewRouter()
	router.Use(adminmw.AdminToken(cfg.AdminToken, log))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(hctx); err != nil {
				http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(hctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	handler.New(svc, log, validator).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting rally", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	// Drain accepted teardowns and buffered audit events before exiting.
	dispatcher.Close()
	auditor.Close()
	log.Info("rally stopped")
}

// ensurePublicGroup creates the platform-wide public group on first boot. Its
// leader is a generated system member that owns no personal balance.
func ensurePublicGroup(ctx context.Context, st stores) error {
	_, err := st.groups.FindByID(ctx, groupmodels.DefaultGroupID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	system := &membermodels.Member{
		ID:          id.NewMemberID(),
		DisplayName: "rally",
		Email:       "system@rally.local",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.members.Create(ctx, system); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return err
	}

	public, err := groupmodels.NewGroup(groupmodels.DefaultGroupID, "The Commons", system.ID, now)
	if err != nil {
		return err
	}
	if err := st.groups.Create(ctx, public); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	return nil
}
