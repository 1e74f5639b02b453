package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"backtest-systemv1/config"
	"backtest-systemv1/internal/metrics"
	"backtest-systemv1/internal/notification"
	"backtest-systemv1/internal/service"
	"backtest-systemv1/internal/store/kafka"
	"backtest-systemv1/internal/store/redis"
	"backtest-systemv1/internal/store/sqlite"
)

// app owns the stores and sinks shared by every subcommand.
type app struct {
	writer    *sqlite.Writer
	reader    *sqlite.Reader
	cache     *redis.ScanCache
	publisher *kafka.Publisher
	notifier  notification.Notifier
	metrics   *metrics.Metrics
}

// openApp opens SQLite and, when enabled, Redis and Kafka. m may be nil.
// A Redis that cannot be reached disables the scan cache instead of
// failing startup.
func openApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*app, error) {
	a := &app{metrics: m}

	path := cfg.Storage.SQLitePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	writerCfg := sqlite.WriterConfig{DBPath: path}
	if m != nil {
		writerCfg.OnCommit = func(d time.Duration) { m.SQLiteCommitDur.Observe(d.Seconds()) }
	}
	var err error
	if a.writer, err = sqlite.New(writerCfg); err != nil {
		return nil, err
	}
	if a.reader, err = sqlite.NewReader(path); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		var observer redis.CacheObserver
		if m != nil {
			observer = m
		}
		a.cache, err = redis.NewScanCache(ctx, redis.CacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.ScanTTL,
		}, observer)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, scan cache disabled")
			a.cache = nil
		}
	}

	if cfg.Kafka.Enabled {
		var onPublish func(string)
		if m != nil {
			onPublish = m.ReportPublished
		}
		a.publisher, err = kafka.NewPublisher(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, onPublish)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.notifier = notifierFor(cfg.Notify)
	return a, nil
}

// notifierFor returns the configured alert channels, or nil when none are.
func notifierFor(cfg config.NotifyConfig) notification.Notifier {
	var channels notification.Multi
	if cfg.WebhookURL != "" {
		channels = append(channels, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		channels = append(channels, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if len(channels) == 0 {
		return nil
	}
	return append(channels, notification.NewLogNotifier())
}

// deps wires the open stores into service dependencies. Nil pointers stay
// out of the interfaces.
func (a *app) deps() service.Deps {
	d := service.Deps{Prices: a.reader, Runs: a.writer, Journal: a.reader}
	if a.cache != nil {
		d.Cache = a.cache
	}
	if a.publisher != nil {
		d.Publisher = a.publisher
	}
	if a.metrics != nil {
		d.Observer = a.metrics
	}
	if a.notifier != nil {
		d.Notifier = a.notifier
	}
	return d
}

// Close releases everything openApp opened.
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("close kafka publisher")
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.reader != nil {
		a.reader.Close()
	}
	if a.writer != nil {
		a.writer.Close()
	}
}
