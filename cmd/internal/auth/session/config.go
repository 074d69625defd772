package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines the runtime tuning of the engine. Key material lives in Keys.
type Config struct {
	// RotationTimeout bounds one rotation unit, including lock waits and retries.
	// The unit is detached from the caller's context and always runs to completion
	// or to this bound.
	RotationTimeout time.Duration

	// LockRetries is how many times a rotation unit is retried after lock contention.
	LockRetries int

	// LockRetryBackoff is the base delay between retries; it doubles per attempt.
	LockRetryBackoff time.Duration

	// SweepSchedule is the cron spec for CleanupExpired (robfig/cron syntax).
	// Empty disables the sweeper.
	SweepSchedule string

	Suspicion SuspicionConfig
}

// SuspicionConfig configures the default DistinctContextPolicy.
type SuspicionConfig struct {
	Disabled           bool
	MinSamples         int
	MaxDistinctDevices int
	MaxDistinctIPs     int
	SampleLimit        int
	Lookback           time.Duration
	StrictLineage      bool
}

// Policy builds the configured SuspicionPolicy.
func (c SuspicionConfig) Policy() SuspicionPolicy {
	if c.Disabled {
		return AllowAll{}
	}
	return DistinctContextPolicy{
		MinSamples:         c.MinSamples,
		MaxDistinctDevices: c.MaxDistinctDevices,
		MaxDistinctIPs:     c.MaxDistinctIPs,
		SampleLimit:        c.SampleLimit,
		Lookback:           c.Lookback,
		StrictLineage:      c.StrictLineage,
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	p := DefaultDistinctContextPolicy()
	return Config{
		RotationTimeout:  10 * time.Second,
		LockRetries:      3,
		LockRetryBackoff: 50 * time.Millisecond,
		SweepSchedule:    "@every 1h",
		Suspicion: SuspicionConfig{
			MinSamples:         p.MinSamples,
			MaxDistinctDevices: p.MaxDistinctDevices,
			MaxDistinctIPs:     p.MaxDistinctIPs,
			SampleLimit:        p.SampleLimit,
			Lookback:           p.Lookback,
		},
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	switch {
	case c.RotationTimeout <= 0:
		return fmt.Errorf("%w: rotation timeout must be > 0", ErrConfig)
	case c.LockRetries < 0:
		return fmt.Errorf("%w: lock retries must be >= 0", ErrConfig)
	case c.LockRetryBackoff < 0:
		return fmt.Errorf("%w: lock retry backoff must be >= 0", ErrConfig)
	}
	if c.Suspicion.Disabled {
		return nil
	}
	s := c.Suspicion
	if s.MinSamples < 1 || s.SampleLimit < s.MinSamples || s.Lookback <= 0 {
		return fmt.Errorf("%w: suspicion window", ErrConfig)
	}
	if s.MaxDistinctDevices < 1 || s.MaxDistinctIPs < 1 {
		return fmt.Errorf("%w: suspicion thresholds", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv loads engine configuration from environment variables.
//
// Optional:
//   - QCK_ROTATION_TIMEOUT, QCK_ROTATION_LOCK_BACKOFF (Go durations)
//   - QCK_ROTATION_LOCK_RETRIES
//   - QCK_SWEEP_SCHEDULE ("off" disables the sweeper)
//   - QCK_SUSPICIOUS_DISABLED, QCK_SUSPICIOUS_STRICT_LINEAGE (bool)
//   - QCK_SUSPICIOUS_MIN_SAMPLES, QCK_SUSPICIOUS_MAX_DEVICES, QCK_SUSPICIOUS_MAX_IPS,
//     QCK_SUSPICIOUS_SAMPLE_LIMIT
//   - QCK_SUSPICIOUS_LOOKBACK (Go duration)
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.RotationTimeout, err = envPositiveDuration("QCK_ROTATION_TIMEOUT", cfg.RotationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LockRetryBackoff, err = envPositiveDuration("QCK_ROTATION_LOCK_BACKOFF", cfg.LockRetryBackoff); err != nil {
		return Config{}, err
	}
	if cfg.LockRetries, err = envNonNegativeInt("QCK_ROTATION_LOCK_RETRIES", cfg.LockRetries); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv("QCK_SWEEP_SCHEDULE"); ok {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "off") {
			v = ""
		}
		cfg.SweepSchedule = v
	}

	s := &cfg.Suspicion
	if s.Disabled, err = envBool("QCK_SUSPICIOUS_DISABLED", s.Disabled); err != nil {
		return Config{}, err
	}
	if s.StrictLineage, err = envBool("QCK_SUSPICIOUS_STRICT_LINEAGE", s.StrictLineage); err != nil {
		return Config{}, err
	}
	if s.MinSamples, err = envNonNegativeInt("QCK_SUSPICIOUS_MIN_SAMPLES", s.MinSamples); err != nil {
		return Config{}, err
	}
	if s.MaxDistinctDevices, err = envNonNegativeInt("QCK_SUSPICIOUS_MAX_DEVICES", s.MaxDistinctDevices); err != nil {
		return Config{}, err
	}
	if s.MaxDistinctIPs, err = envNonNegativeInt("QCK_SUSPICIOUS_MAX_IPS", s.MaxDistinctIPs); err != nil {
		return Config{}, err
	}
	if s.SampleLimit, err = envNonNegativeInt("QCK_SUSPICIOUS_SAMPLE_LIMIT", s.SampleLimit); err != nil {
		return Config{}, err
	}
	if s.Lookback, err = envPositiveDuration("QCK_SUSPICIOUS_LOOKBACK", s.Lookback); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envNonNegativeInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s", ErrConfig, key)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrConfig, key)
	}
	return b, nil
}
