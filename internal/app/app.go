// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fsmvid-proxy/pkg/appctx"
	"fsmvid-proxy/pkg/botdetect"
	"fsmvid-proxy/pkg/cache"
	"fsmvid-proxy/pkg/config"
	"fsmvid-proxy/pkg/downloads"
	"fsmvid-proxy/pkg/handlers/api"
	"fsmvid-proxy/pkg/httpclient"
	"fsmvid-proxy/pkg/interfaces"
	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/ratelimit"
	"fsmvid-proxy/pkg/rewrite"
	"fsmvid-proxy/pkg/server"
	"fsmvid-proxy/pkg/services"
	"fsmvid-proxy/pkg/upstream"
	"fsmvid-proxy/pkg/validate"
)

// App is the main application container.
type App struct {
	Ctx    *appctx.Context
	Server *server.Server

	downloadStore *downloads.Store
	rdb           *redis.Client
	stopJanitors  context.CancelFunc
}

// New creates and initializes the application.
func New() (*App, error) {
	cfg := config.Load()

	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing fsmvid-proxy", "port", cfg.Port, "log_level", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		// Startup proceeds; download requests fail with a configuration error
		// until the operator fixes the environment.
		log.Warn("upstream API not configured", "error", err)
	} else if cfg.DebugMode {
		log.Debug("upstream API configured", "url", cfg.APIURL, "key", cfg.APIKeyHint())
	}

	ctx := appctx.New(cfg, log)
	janitorCtx, stopJanitors := context.WithCancel(context.Background())

	// Counter and cache stores: shared Redis when configured, in-process
	// otherwise. Both back the rate limiter and the bot detector.
	var (
		rdb       *redis.Client
		counters  ratelimit.CounterStore
		respCache interfaces.ResponseCache
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		counters = ratelimit.NewRedisStore(rdb, "fsmvid")
		respCache = cache.NewRedis(rdb, cfg.ResponseCacheTTL, log)
		log.Info("using shared redis stores", "addr", cfg.RedisAddr)
	} else {
		memCounters := ratelimit.NewMemoryStore()
		memCounters.StartJanitor(janitorCtx, 5*time.Minute)
		counters = memCounters

		memCache := cache.NewMemory(cfg.ResponseCacheTTL)
		memCache.StartJanitor(janitorCtx, 10*time.Minute)
		respCache = memCache
	}

	limiter := ratelimit.New(counters, log,
		ratelimit.Policy{Name: ratelimit.PolicyProxy, Limit: cfg.ProxyLimit, Window: cfg.RateWindow},
		ratelimit.Policy{Name: ratelimit.PolicyProxyStrict, Limit: cfg.ProxyStrictLimit, Window: cfg.RateWindow},
	)

	bots := botdetect.New(counters, log,
		botdetect.Horizon{Name: "burst", Threshold: cfg.BotShortThreshold, Window: cfg.BotShortWindow},
		botdetect.Horizon{Name: "sustained", Threshold: cfg.BotLongThreshold, Window: cfg.BotLongWindow},
	)

	validator := validate.New(cfg.AllowedOrigins)

	downloadStore, err := downloads.Open(cfg.DataDir)
	if err != nil {
		stopJanitors()
		return nil, fmt.Errorf("open download store: %w", err)
	}
	ctx.WithDownloads(downloadStore)

	httpClient := httpclient.New(cfg, log)
	ctx.WithHTTPClient(httpClient)

	upstreamClient := upstream.New(httpClient, upstream.Options{
		APIURL:   cfg.APIURL,
		APIKey:   cfg.APIKey,
		Attempts: cfg.RetryAttempts,
		Delay:    cfg.RetryDelay,
		RPS:      cfg.UpstreamRPS,
		Burst:    cfg.UpstreamBurst,
	}, log)

	rewriter := rewrite.New(downloadStore, downloads.Key, cfg.CDNHosts, log)

	proxyService := services.NewProxy(cfg, limiter, bots, validator, respCache, upstreamClient, rewriter, log)
	ctx.WithProxyService(proxyService)

	srv := server.New(cfg, log)
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:           ctx,
		Server:        srv,
		downloadStore: downloadStore,
		rdb:           rdb,
		stopJanitors:  stopJanitors,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting fsmvid-proxy server", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	a.stopJanitors()

	if err := a.downloadStore.Close(); err != nil {
		a.Ctx.Log.Error("failed to close download store", "error", err)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.Ctx.Log.Error("failed to close redis client", "error", err)
		}
	}
}
