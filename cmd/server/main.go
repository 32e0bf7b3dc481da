package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	authHandler "submit/internal/authorization/handler"
	authMetrics "submit/internal/authorization/metrics"
	authService "submit/internal/authorization/service"
	authStore "submit/internal/authorization/store"
	"submit/internal/identity/vault"
	journeyHandler "submit/internal/journey/handler"
	journeyMetrics "submit/internal/journey/metrics"
	journeyService "submit/internal/journey/service"
	"submit/internal/journey/sink/kafka"
	journeyStore "submit/internal/journey/store"
	oauthHandler "submit/internal/oauthflow/handler"
	oauthService "submit/internal/oauthflow/service"
	"submit/internal/operator"
	"submit/internal/platform/config"
	"submit/internal/platform/httpserver"
	"submit/internal/platform/logger"
	"submit/internal/platform/metrics"
	"submit/internal/platform/postgres"
	"submit/internal/platform/redis"
	programModels "submit/internal/program/models"
	programStore "submit/internal/program/store"
	"submit/internal/session"
	"submit/internal/statetoken"
	tokenService "submit/internal/submittoken/service"
	tokenStore "submit/internal/submittoken/store"
	httptransport "submit/internal/transport/http"
	verifyHandler "submit/internal/verification/handler"
	verifyMetrics "submit/internal/verification/metrics"
	verifyService "submit/internal/verification/service"
	verifyStore "submit/internal/verification/store"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and runs the server until SIGINT or SIGTERM.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type programs interface {
	programStore.Saver
	FindBySlug(ctx context.Context, slug string) (*programModels.Program, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*programModels.Program, error)
}

type stores struct {
	programs programs
	requests authService.Store
	tokens   tokenService.Store
	attempts verifyService.AttemptStore
	journey  journeyService.Store
	sessions session.Store
	probes   map[string]httptransport.Probe
	closers  []func() error
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close(log)

	if cfg.ProgramsFile != "" {
		n, err := programStore.SeedFromFile(ctx, st.programs, cfg.ProgramsFile, cfg.FormURLHosts)
		if err != nil {
			return err
		}
		log.Info("programs seeded", "count", n, "file", cfg.ProgramsFile)
	}

	codec, err := statetoken.New(cfg.StateSecret)
	if err != nil {
		return fmt.Errorf("state codec: %w", err)
	}
	idv := vault.New(cfg.Vault, vault.WithMetrics(vault.NewMetrics()))
	if !idv.Configured() {
		log.Warn("identity vault is not configured; verification will fail with a server error")
	}

	jm := journeyMetrics.New()
	recorderOpts := []journeyService.Option{
		journeyService.WithLogger(log),
		journeyService.WithMetrics(jm),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		cl, err := kafka.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer closeKafka(cl, log)
		if err := kafka.EnsureTopic(ctx, cl, cfg.Kafka.Topic, 3, 1); err != nil {
			log.Warn("journey topic not ensured", "topic", cfg.Kafka.Topic, "error", err)
		}
		recorderOpts = append(recorderOpts, journeyService.WithSink(
			kafka.New(cl, cfg.Kafka.Topic, kafka.WithLogger(log), kafka.WithMetrics(jm)),
		))
	}
	recorder := journeyService.NewRecorder(st.journey, recorderOpts...)

	ledger := tokenService.New(st.tokens, tokenService.WithLogger(log))
	authorizations := authService.New(st.requests, cfg.BaseURL,
		authService.WithLogger(log),
		authService.WithMetrics(authMetrics.New()),
	)
	guard := verifyService.New(st.attempts, ledger, st.programs, idv, recorder,
		verifyService.WithLogger(log),
		verifyService.WithMetrics(verifyMetrics.New()),
	)
	flow := oauthService.New(oauthService.Deps{
		Programs:       st.programs,
		Codec:          codec,
		Vault:          idv,
		Tokens:         ledger,
		Authorizations: authorizations,
		Journey:        recorder,
		BaseURL:        cfg.BaseURL,
	}, oauthService.WithLogger(log))

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Metrics:        metrics.New(),
		RequestTimeout: cfg.RequestTimeout,
		Operators:      operator.NewTokenService(cfg.OperatorJWTKey, cfg.OperatorIssuer),
		Probes:         st.probes,
		Verification:   verifyHandler.New(guard, log),
		Authorization:  authHandler.New(authorizations, st.programs, log),
		Journey:        journeyHandler.New(journeyService.NewSessions(st.journey), log),
		Browser:        oauthHandler.New(flow, session.NewManager(st.sessions, cfg.Session), log),
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting submit", "addr", cfg.Addr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openStores picks Postgres when DATABASE_URL is set and Redis sessions when
// REDIS_URL is set; everything else runs in memory.
func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (*stores, error) {
	st := &stores{probes: map[string]httptransport.Probe{}}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		st.probes["postgres"] = db.PingContext
		usePostgres(st, db)
		log.Info("using postgres stores")
	} else {
		st.programs = programStore.New()
		st.requests = authStore.New()
		st.tokens = tokenStore.New()
		st.attempts = verifyStore.New()
		st.journey = journeyStore.New()
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		st.close(log)
		return nil, err
	}
	if rc != nil {
		st.closers = append(st.closers, rc.Close)
		st.probes["redis"] = rc.Health
		st.sessions = session.NewRedis(rc.Client)
	} else {
		st.sessions = session.NewInMemory()
	}
	return st, nil
}

func usePostgres(st *stores, db *sql.DB) {
	st.programs = programStore.NewPostgres(db)
	st.requests = authStore.NewPostgres(db)
	st.tokens = tokenStore.NewPostgres(db)
	st.attempts = verifyStore.NewPostgres(db)
	st.journey = journeyStore.NewPostgres(db)
}

func (st *stores) close(log *slog.Logger) {
	for _, c := range st.closers {
		if err := c(); err != nil {
			log.Warn("close resource", "error", err)
		}
	}
}

func closeKafka(cl *kgo.Client, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := cl.Flush(ctx); err != nil {
		log.Warn("journey sink flush", "error", err)
	}
	cl.Close()
}
