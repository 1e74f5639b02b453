package main

import (
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"backtest-systemv1/internal/api"
	"backtest-systemv1/internal/gateway"
	"backtest-systemv1/internal/metrics"
	"backtest-systemv1/internal/service"
)

const livenessInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API, websocket progress stream, /metrics and /healthz",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	a, err := openApp(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := gateway.NewHub(gateway.HubConfig{
		OnClientsChanged: func(n int) { m.WSClients.Set(float64(n)) },
	})

	deps := a.deps()
	deps.Hub = hub
	deps.OnRun = health.RecordRun
	svc, err := service.New(cfg, deps)
	if err != nil {
		return err
	}

	var rdb *goredis.Client
	if a.cache != nil {
		rdb = a.cache.Client()
	}
	health.SetRedisEnabled(cfg.Redis.Enabled)
	health.SetKafkaEnabled(a.publisher != nil)
	health.StartLivenessChecker(ctx, rdb, a.reader.DB(), livenessInterval)

	srv := api.NewServer(svc, api.Config{
		Addr:    cfg.Server.Addr,
		Metrics: m.Handler(),
		Health:  health,
		WS:      hub,
	})
	log.Info().
		Str("addr", cfg.Server.Addr).
		Bool("redis", a.cache != nil).
		Bool("kafka", a.publisher != nil).
		Msg("backtest server starting")
	return srv.Run(ctx)
}
