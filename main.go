package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"signalpipeline/internal/api"
	"signalpipeline/internal/exchange"
	"signalpipeline/internal/exchange/binance"
	"signalpipeline/internal/exchange/dryrun"
	"signalpipeline/internal/ingress"
	"signalpipeline/internal/monitor"
	"signalpipeline/internal/notify"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/store"
	"signalpipeline/internal/strategy"
	"signalpipeline/internal/worker"
	"signalpipeline/pkg/config"
	"signalpipeline/pkg/crypto"
)

// buildVersion is stamped by -ldflags "-X main.buildVersion=..." in CI;
// it defaults to "dev" for local/demo runs.
var buildVersion = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("signalpipeline starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping failed: %v", err)
	}
	defer rdb.Close()

	km, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("key manager init failed: %v", err)
	}
	log.Printf("key manager initialized (version %d)", km.CurrentVersion())

	st, err := store.Open(cfg.SQLitePath, km)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()

	if cfg.StrategyConfigPath != "" {
		if configs, err := strategy.LoadConfig(cfg.StrategyConfigPath); err != nil {
			log.Printf("strategy config sync skipped: %v", err)
		} else if err := strategy.SyncConfigToDB(st.DB, configs); err != nil {
			log.Printf("strategy config sync failed: %v", err)
		} else {
			log.Printf("synced %d strategies from %s", len(configs), cfg.StrategyConfigPath)
		}
	}

	registry := exchange.NewRegistry(exchange.RegistryConfig{
		MaxSize:          cfg.RegistryMaxSize,
		IdleTimeout:      cfg.RegistryIdleTimeout,
		FailureThreshold: cfg.RegistryFailureThreshold,
		CircuitTimeout:   cfg.RegistryCircuitTimeout,
	})
	registry.RegisterFactory("binance-usdtfut", binance.NewUSDTFuturesAdapter)
	registry.RegisterFactory("binance-usdtfut-testnet", binance.NewUSDTFuturesTestnetAdapter)
	registry.RegisterFactory("dryrun", func(ctx context.Context, apiKey, apiSecret, passphrase string) (exchange.Adapter, error) {
		return dryrun.New(decimal.NewFromInt(10000), dryrun.DefaultConfig()), nil
	})

	bus := notify.NewBus()
	metrics := monitor.NewSystemMetrics()

	q := queue.New(rdb)
	ing := ingress.New(st.Strategy, q)
	ing.Metrics = metrics

	pool := worker.New(q, registry, st.Keys, st.Strategy, bus, worker.Config{
		DequeueTimeout:   5 * time.Second,
		ExecutionTimeout: time.Duration(cfg.MaxExecutionTimeMs) * time.Millisecond,
		RecoverMaxAge:    cfg.RecoverMaxAge,
	})
	pool.Metrics = metrics
	pool.Start(ctx, 4)

	mon := &monitor.Monitor{
		Bus: bus,
		AlertFn: func(msg string) {
			log.Printf("ALERT: %s", msg)
		},
	}
	mon.Start(ctx)

	server := api.NewServer(ing, st, registry, bus, metrics, api.SystemMeta{
		DryRun:  cfg.DryRun,
		Version: buildVersion,
	}, cfg.JWTSecret)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
