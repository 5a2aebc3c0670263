// Package server wires the process together: Redis-backed realtime store,
// event bus, domain services, and the single HTTP listener carrying the REST
// API, the websockets and the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/musudik/iquiz/internal/analytics"
	"github.com/musudik/iquiz/internal/api"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/leaderboard"
	"github.com/musudik/iquiz/internal/notify"
	"github.com/musudik/iquiz/internal/quizdef"
	"github.com/musudik/iquiz/internal/registration"
	"github.com/musudik/iquiz/internal/session"
	"github.com/musudik/iquiz/internal/store/redisstore"
	"github.com/musudik/iquiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	// BaseURL is the public origin participant join links point at.
	BaseURL string

	Redis struct {
		Store struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	// Postgres.URL is optional; empty disables the results history.
	Postgres struct {
		URL string
	}

	// Mailer.Endpoint is optional; empty disables confirmation emails.
	Mailer struct {
		Endpoint string
	}
}

// Default returns the configuration the server starts from before file and
// environment overrides apply: single local Redis, no Postgres, no mailer.
func Default() Config {
	var c Config
	c.HTTP.Port = 8080
	c.BaseURL = "http://localhost:8080"
	c.Redis.Store.Addrs = []string{"localhost:6379"}
	c.Redis.Store.Prefix = "iquiz"
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "iquiz:notify"
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			store  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool

		store *redisstore.Store
	}

	service struct {
		quizdef      *quizdef.Service
		session      *session.Service
		registration *registration.Service
		leaderboard  *leaderboard.Service
		analytics    *analytics.Service
		mailer       *notify.Mailer
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init services: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	s.infra.store = redisstore.New(s.infra.redis.store, s.c.Redis.Store.Prefix)
	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.store, err = connect(s.c.Redis.Store.Addrs, s.c.Redis.Store.Pass)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	if s.c.Postgres.URL == "" {
		slog.Info("server: postgres not configured, results history disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(s.c.Postgres.URL)
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	s.service.quizdef = quizdef.NewService(quizdef.Config{
		Store: s.infra.store,
	})

	s.service.session = session.NewService(session.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
	})

	s.service.registration = registration.NewService(registration.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		BaseURL:  s.c.BaseURL,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.infra.store,
		Redis:    s.infra.redis.store,
		Prefix:   s.c.Redis.Store.Prefix,
	})

	s.service.mailer = notify.NewMailer(notify.Config{
		EventBus: s.eb,
		Endpoint: s.c.Mailer.Endpoint,
	})

	if s.infra.postgres != nil {
		s.service.analytics = analytics.NewService(analytics.Config{
			DB:       s.infra.postgres,
			Store:    s.infra.store,
			EventBus: s.eb,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.service.analytics.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Store:        s.infra.store,
		QuizDef:      s.service.quizdef,
		Session:      s.service.session,
		Registration: s.service.registration,
		Leaderboard:  s.service.leaderboard,
		Analytics:    s.service.analytics,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
