package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/scan"
)

const defaultScanTTL = 10 * time.Minute

// Cache lookup outcomes reported to the observer.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// CacheConfig configures the scan cache.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // zero means 10m
	Breaker  BreakerConfig
}

// CacheObserver receives cache and breaker events. metrics.Metrics
// implements it.
type CacheObserver interface {
	CacheLookup(result string)
	BreakerStateChanged(to int, tripped bool)
}

// ScanCache stores scan results under ScanRequest.Key. Every Redis call
// goes through a circuit breaker so an unavailable Redis degrades to
// recomputing scans instead of stalling requests.
type ScanCache struct {
	client   *goredis.Client
	breaker  *CircuitBreaker
	ttl      time.Duration
	observer CacheObserver
	log      zerolog.Logger
}

// NewScanCache connects to Redis and pings it. observer may be nil.
func NewScanCache(ctx context.Context, cfg CacheConfig, observer CacheObserver) (*ScanCache, error) {
	c := newScanCache(goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg, observer)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	c.log.Info().Str("addr", cfg.Addr).Dur("ttl", c.ttl).Msg("connected")
	return c, nil
}

func newScanCache(client *goredis.Client, cfg CacheConfig, observer CacheObserver) *ScanCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultScanTTL
	}
	c := &ScanCache{
		client:   client,
		ttl:      ttl,
		observer: observer,
		log:      log.With().Str("component", "redis-cache").Logger(),
	}
	c.breaker = NewCircuitBreaker(cfg.Breaker, c.onStateChange)
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *ScanCache) Client() *goredis.Client { return c.client }

// Breaker returns the circuit breaker guarding the client.
func (c *ScanCache) Breaker() *CircuitBreaker { return c.breaker }

// Get returns the cached results for req. ok is false on a miss.
func (c *ScanCache) Get(ctx context.Context, req scan.ScanRequest) ([]scan.ScanResult, bool, error) {
	key := req.Key()
	var raw []byte
	err := c.breaker.Execute(func() error {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		c.lookup(ResultError)
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if raw == nil {
		c.lookup(ResultMiss)
		return nil, false, nil
	}

	var results []scan.ScanResult
	if err := json.Unmarshal(raw, &results); err != nil {
		c.lookup(ResultError)
		return nil, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	c.lookup(ResultHit)
	return results, true, nil
}

// Set stores results for req with the configured TTL.
func (c *ScanCache) Set(ctx context.Context, req scan.ScanRequest, results []scan.ScanResult) error {
	key := req.Key()
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.log.Debug().Str("key", key).Int("results", len(results)).Msg("scan cached")
	return nil
}

// Close closes the client.
func (c *ScanCache) Close() error {
	return c.client.Close()
}

func (c *ScanCache) lookup(result string) {
	if c.observer != nil {
		c.observer.CacheLookup(result)
	}
}

func (c *ScanCache) onStateChange(from, to State) {
	c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	if c.observer != nil {
		c.observer.BreakerStateChanged(int(to), to == StateOpen)
	}
}
