// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/adapter"
	"github.com/GwynCerbin/go_rabbit_services/pkg/metrics"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBackoff is the fixed wait before retrying an operation that found
	// no usable transport, and before every reconnect attempt.
	DefaultBackoff = time.Second
	// DefaultPollInterval is the wait between two empty fetches of a reply queue.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultResponseTimeout is the budget of a request awaiting a response.
	DefaultResponseTimeout = 30 * time.Second
	// DefaultReplyQueueExpiry removes abandoned reply queues on the broker side.
	DefaultReplyQueueExpiry = 5 * time.Minute
	// DefaultRequeueDelay is the delay DelayedRequeue republishes with.
	DefaultRequeueDelay = 5 * time.Minute
)

// Config is the construction input of a Client.
type Config struct {
	// Exchange every queue of this client is bound to.
	Exchange string `yaml:"exchange"`
	// Prefetch bounds the unacknowledged deliveries per consumer. Defaults to 1.
	Prefetch int `yaml:"prefetch"`
	// Connection parameters of the broker.
	Connection adapter.Client `yaml:"connection"`
}

// LoadConfig reads a YAML configuration file and applies the RABBITMQ_*
// environment variables on top of its connection section.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err = cfg.Connection.ApplyEnv(); err != nil {
		return nil, err
	}

	if cfg.Prefetch == 0 {
		cfg.Prefetch = 1
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Exchange == "" {
		return EmptyExchangeError{}
	}

	if c.Prefetch < 1 {
		return InvalidPrefetchError{Prefetch: c.Prefetch}
	}

	return nil
}

// options holds the behaviour knobs of a Client.
type options struct {
	backoff        time.Duration
	pollInterval   time.Duration
	defaultTimeout time.Duration
	replyExpiry    time.Duration
	logger         *zap.Logger
	metrics        *metrics.Collector
}

func defaultOptions() options {
	return options{
		backoff:        DefaultBackoff,
		pollInterval:   DefaultPollInterval,
		defaultTimeout: DefaultResponseTimeout,
		replyExpiry:    DefaultReplyQueueExpiry,
		logger:         zap.L().Named("rabbit"),
	}
}

// Option configures a Client.
type Option func(*options)

// WithBackoff sets the fixed retry interval used on transport loss.
func WithBackoff(d time.Duration) Option {
	return func(o *options) {
		o.backoff = d
	}
}

// WithPollInterval sets the wait between two empty reply queue fetches.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithDefaultTimeout sets the response budget used when a request gives none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		o.defaultTimeout = d
	}
}

// WithReplyQueueExpiry sets the broker-side expiry of reply queues.
func WithReplyQueueExpiry(d time.Duration) Option {
	return func(o *options) {
		o.replyExpiry = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records client activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}
