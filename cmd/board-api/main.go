package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/provider"
	"prism-board/storage"
)

func main() {
	cfg, err := config.ServerFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.LogJSON {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Storage = storage.NewMemory()
	if cfg.StorageConnStr != "" {
		az, err := storage.NewAzure(cfg.StorageConnStr, cfg.BoardTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = az
	} else {
		logger.Warn("STORAGE_CONNECTION_STRING not set, boards are kept in memory")
	}

	var (
		rc   *redis.Client
		opts []api.Option
	)
	if cfg.Redis != nil {
		rc = redis.NewClient(cfg.Redis)
		defer rc.Close()
		store = storage.NewCache(store, rc, cfg.CacheTTL)
		opts = append(opts, api.WithReplayer(api.NewRedisReplayer(rc, cfg.DedupeTTL)))
	}
	if cfg.EventsQueue != "" {
		q, err := storage.NewEventQueue(cfg.StorageConnStr, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		opts = append(opts, api.WithSinks(q))
	}

	auth, err := authenticator(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	broker := api.NewBroker(rc, logger)
	if rc != nil {
		go broker.Run(ctx)
	}
	srv := api.NewServer(store, auth, broker, append(opts, api.WithLogger(logger))...)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			echo.HeaderContentEncoding, provider.HeaderIdempotencyKey, provider.HeaderClientID, provider.HeaderBoardID,
		},
	}))
	e.Use(echoprometheus.NewMiddleware("board_api"))
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, srv)

	go func() {
		<-ctx.Done()
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}()

	logger.WithField("port", cfg.Port).Info("board api starting")
	if err := e.Start(":" + cfg.Port); err != nil && ctx.Err() == nil {
		e.Logger.Fatal(err)
	}
}

func authenticator(cfg config.Server) (api.Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthNone:
		return api.Anonymous{UserID: cfg.AnonymousUser}, nil
	case config.AuthHS256:
		return api.NewAuth(api.AuthConfig{Secret: []byte(cfg.AuthSecret)}), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.Auth0Audience,
		Issuer:      cfg.Issuer(),
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}), nil
}
