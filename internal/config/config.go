// Package config defines the recognized configuration bag for the RLM
// engine: a typed Config struct with one field per documented key,
// loaded from RLM_-prefixed environment variables, matching the
// teacher's environment-variable convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rand/rlmengine/internal/rlm/rlmerr"
)

// Config is the opaque bag of recognized keys a Config consumer (the
// RLMExecutor, SmartScheduler, HealthMonitor, BatchInferenceRouter, and
// ClusterClient) is constructed from.
type Config struct {
	MaxIterations          int
	MaxREPLOutput          int64
	IterationTimeout       time.Duration
	MaxContextLength       int
	EnableContextFolding   bool
	EnableParallelBatching bool
	BatchConcurrency       int
	BatchTimeout           time.Duration
	MaxRecursionDepth      int
	MaxConcurrentAgents    int
	ConversationCacheSize  int
	HealthCheckInterval    time.Duration
	HealthFailureThreshold int
	HTTPConnectTimeout     time.Duration
	HTTPPoolMaxIdlePerHost int
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		MaxIterations:          10,
		MaxREPLOutput:          1 << 20,
		IterationTimeout:       120 * time.Second,
		MaxContextLength:       8000,
		EnableContextFolding:   true,
		EnableParallelBatching: true,
		BatchConcurrency:       10,
		BatchTimeout:           300 * time.Second,
		MaxRecursionDepth:      5,
		MaxConcurrentAgents:    10,
		ConversationCacheSize:  100,
		HealthCheckInterval:    10 * time.Second,
		HealthFailureThreshold: 3,
		HTTPConnectTimeout:     10 * time.Second,
		HTTPPoolMaxIdlePerHost: 10,
	}
}

// Load reads Config fields from RLM_-prefixed environment variables,
// falling back to Default for anything unset, then validates the result.
func Load() (Config, error) {
	cfg := Default()

	loadInt(&cfg.MaxIterations, "RLM_MAX_ITERATIONS")
	loadInt64(&cfg.MaxREPLOutput, "RLM_MAX_REPL_OUTPUT")
	loadDuration(&cfg.IterationTimeout, "RLM_ITERATION_TIMEOUT")
	loadInt(&cfg.MaxContextLength, "RLM_MAX_CONTEXT_LENGTH")
	loadBool(&cfg.EnableContextFolding, "RLM_ENABLE_CONTEXT_FOLDING")
	loadBool(&cfg.EnableParallelBatching, "RLM_ENABLE_PARALLEL_BATCHING")
	loadInt(&cfg.BatchConcurrency, "RLM_BATCH_CONCURRENCY")
	loadDuration(&cfg.BatchTimeout, "RLM_BATCH_TIMEOUT")
	loadInt(&cfg.MaxRecursionDepth, "RLM_MAX_RECURSION_DEPTH")
	loadInt(&cfg.MaxConcurrentAgents, "RLM_MAX_CONCURRENT_AGENTS")
	loadInt(&cfg.ConversationCacheSize, "RLM_CONVERSATION_CACHE_SIZE")
	loadDuration(&cfg.HealthCheckInterval, "RLM_HEALTH_CHECK_INTERVAL")
	loadInt(&cfg.HealthFailureThreshold, "RLM_HEALTH_FAILURE_THRESHOLD")
	loadDuration(&cfg.HTTPConnectTimeout, "RLM_HTTP_CONNECT_TIMEOUT")
	loadInt(&cfg.HTTPPoolMaxIdlePerHost, "RLM_HTTP_POOL_MAX_IDLE_PER_HOST")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the documented constraints on recognized keys.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return rlmerr.New(rlmerr.KindConfig, "max_iterations must be > 0")
	}
	if c.BatchConcurrency <= 0 {
		return rlmerr.New(rlmerr.KindConfig, "batch_concurrency must be > 0")
	}
	if c.ConversationCacheSize <= 0 {
		return rlmerr.New(rlmerr.KindConfig, "conversation_cache_size must be > 0")
	}
	if c.HealthFailureThreshold <= 0 {
		return rlmerr.New(rlmerr.KindConfig, "health_failure_threshold must be > 0")
	}
	if c.HTTPPoolMaxIdlePerHost < 1 {
		return rlmerr.New(rlmerr.KindConfig, "http_pool_max_idle_per_host must be >= 1 (0 disables pooling, which is forbidden)")
	}
	return nil
}

func loadInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func loadInt64(dst *int64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func loadBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func loadDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// String renders the config for logging/debugging.
func (c Config) String() string {
	return fmt.Sprintf(
		"max_iterations=%d max_context_length=%d batch_concurrency=%d conversation_cache_size=%d health_check_interval=%s http_pool_max_idle_per_host=%d",
		c.MaxIterations, c.MaxContextLength, c.BatchConcurrency, c.ConversationCacheSize, c.HealthCheckInterval, c.HTTPPoolMaxIdlePerHost,
	)
}
