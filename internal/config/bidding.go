package config

import (
	"time"

	"github.com/spf13/viper"
)

// BiddingConfig holds the runtime tunables of the bid admission pipeline.
type BiddingConfig struct {
	GlobalMinBid      int64         // lowest amount any bid may carry
	GlobalMaxBid      int64         // highest amount any bid may carry
	CASRetries        int           // stale-write retries within one job pass
	ResolutionTimeout time.Duration // window before bid_error is surfaced to the submitter
}

// GetBiddingConfig returns bidding configuration with defaults.
func GetBiddingConfig() *BiddingConfig {
	viper.SetDefault("bidding.global_min_bid", 1)
	viper.SetDefault("bidding.global_max_bid", 1_000_000_000)
	viper.SetDefault("bidding.cas_retries", 8)
	viper.SetDefault("bidding.resolution_timeout", 10*time.Second)

	return &BiddingConfig{
		GlobalMinBid:      viper.GetInt64("bidding.global_min_bid"),
		GlobalMaxBid:      viper.GetInt64("bidding.global_max_bid"),
		CASRetries:        viper.GetInt("bidding.cas_retries"),
		ResolutionTimeout: viper.GetDuration("bidding.resolution_timeout"),
	}
}

// QueueConfig holds worker pool and job retry tunables.
type QueueConfig struct {
	Workers           int
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	PollInterval      time.Duration
	HealthMaxBacklog  int     // waiting jobs beyond this flag the queue unhealthy
	HealthMaxFailRate float64 // failed / processed ratio beyond this flags unhealthy
}

// GetQueueConfig returns queue configuration with defaults.
func GetQueueConfig() *QueueConfig {
	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.max_attempts", 5)
	viper.SetDefault("queue.backoff_base", 500*time.Millisecond)
	viper.SetDefault("queue.backoff_cap", 30*time.Second)
	viper.SetDefault("queue.poll_interval", 100*time.Millisecond)
	viper.SetDefault("queue.health_max_backlog", 1000)
	viper.SetDefault("queue.health_max_fail_rate", 0.05)

	return &QueueConfig{
		Workers:           viper.GetInt("queue.workers"),
		MaxAttempts:       viper.GetInt("queue.max_attempts"),
		BackoffBase:       viper.GetDuration("queue.backoff_base"),
		BackoffCap:        viper.GetDuration("queue.backoff_cap"),
		PollInterval:      viper.GetDuration("queue.poll_interval"),
		HealthMaxBacklog:  viper.GetInt("queue.health_max_backlog"),
		HealthMaxFailRate: viper.GetFloat64("queue.health_max_fail_rate"),
	}
}

// RateLimitConfig guards the realtime layer.
type RateLimitConfig struct {
	Window            time.Duration
	ConnectionsPerMin int
	BidsPerMin        int
	LogSecurityEvents bool
}

// GetRateLimitConfig returns rate limiting configuration with defaults.
func GetRateLimitConfig() *RateLimitConfig {
	viper.SetDefault("ratelimit.window", time.Minute)
	viper.SetDefault("ratelimit.connections_per_min", 10)
	viper.SetDefault("ratelimit.bids_per_min", 30)
	viper.SetDefault("ratelimit.log_security_events", true)

	return &RateLimitConfig{
		Window:            viper.GetDuration("ratelimit.window"),
		ConnectionsPerMin: viper.GetInt("ratelimit.connections_per_min"),
		BidsPerMin:        viper.GetInt("ratelimit.bids_per_min"),
		LogSecurityEvents: viper.GetBool("ratelimit.log_security_events"),
	}
}

// SchedulerConfig drives the auction lifecycle ticker.
type SchedulerConfig struct {
	TickEvery         time.Duration
	EndingSoonOffsets []int // minutes before end_at, announced at most once each
	StatusCacheTTL    time.Duration
}

// GetSchedulerConfig returns scheduler configuration with defaults.
func GetSchedulerConfig() *SchedulerConfig {
	viper.SetDefault("scheduler.tick_every", 5*time.Second)
	viper.SetDefault("scheduler.ending_soon_offsets", []int{30, 15, 5, 1})
	viper.SetDefault("scheduler.status_cache_ttl", 5*time.Second)

	return &SchedulerConfig{
		TickEvery:         viper.GetDuration("scheduler.tick_every"),
		EndingSoonOffsets: viper.GetIntSlice("scheduler.ending_soon_offsets"),
		StatusCacheTTL:    viper.GetDuration("scheduler.status_cache_ttl"),
	}
}
