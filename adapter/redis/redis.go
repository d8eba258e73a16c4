// Package redis implements a Redis pub/sub notification adapter.
//
// Publishes session completion events as JSON to a configurable Redis
// channel. Delivery runs through adapter.Deliver, so retry budget,
// backoff, and circuit breaking come from the profiler's recovery
// engine; connection failures are plain retriable IO.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/burrow/adapter"
	"github.com/pithecene-io/burrow/trackerr"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "burrow:session_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: burrow:session_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Recovery supplies the retry/circuit-breaker policy. Pass the
	// session's engine to share breaker state with export retries;
	// nil builds a private engine with the default policy.
	Recovery *trackerr.Engine
}

// Adapter publishes session completion events via Redis PUBLISH.
type Adapter struct {
	config   Config
	client   *goredis.Client
	recovery *trackerr.Engine
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	recovery := cfg.Recovery
	if recovery == nil {
		recovery = trackerr.NewEngine()
	}

	return &Adapter{
		config:   cfg,
		client:   goredis.NewClient(opts),
		recovery: recovery,
	}, nil
}

// Publish sends the event as a JSON PUBLISH to the configured channel
// under the recovery engine's delivery policy.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Deliver(ctx, a.recovery, "redis_publish", func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	})
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
