package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dispatchd/api"
	"dispatchd/broadcast"
	"dispatchd/config"
	"dispatchd/dispatch"
	"dispatchd/ingest"
	"dispatchd/notify"
	"dispatchd/presence"
	"dispatchd/ratelimit"
	"dispatchd/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	rc := redis.NewClient(redisOptions(cfg.RedisConnectionString))
	store := storage.New(rc)

	var auth *api.Auth
	if os.Getenv("LOCAL_AUTH_MODE") != "" {
		auth = api.NewAuth(nil, "", "")
	} else {
		if cfg.Auth0Audience == "" || cfg.Auth0Domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	rooms := presence.NewManager(logger)
	router := broadcast.NewRouter(rooms, logger)
	bridge := notify.NewBridge(store, router, logger, cfg.NotificationTTL)
	engine := dispatch.NewEngine(store, router, bridge, logger)
	limiter := ratelimit.NewLimiter(cfg.RateLimitWindow, cfg.RateLimitBudget)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ingest.Run(ctx, logger, rc, cfg.EventsChannel, router, cfg.DispatchRadiusKm)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	rt := api.NewRealtimeHandler(auth, store, rooms, bridge, limiter, logger, cfg.SendBuffer)
	api.Register(e, rt, engine, store, store, auth, logger)

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}

// redisOptions accepts either a redis URL or the comma-separated
// "host:port,password=...,ssl=true" form some hosts hand out.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
