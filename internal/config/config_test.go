package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Run from a temp dir so no config.yaml is picked up.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 256, cfg.Scheduler.QueueCapacity)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0.65, cfg.Decision.SubmitThreshold)
	assert.Equal(t, 0.85, cfg.Decision.UrgentThreshold)
	assert.Equal(t, 10, cfg.Submission.MaxPerDay)
	assert.Equal(t, 2, cfg.Submission.MaxPerOrganization)
	assert.Equal(t, "json", cfg.Log.Format)

	weights := cfg.Decision.Weights
	require.Len(t, weights, 6)
	assert.Equal(t, 0.3, weights["match"])
	assert.Equal(t, 0.1, weights["competition"])
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := defaultsForTest()
	cfg.Decision.SubmitThreshold = 0.9
	cfg.Decision.PriorityThreshold = 0.7
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := defaultsForTest()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg := defaultsForTest()
	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultsForTest()
	assert.Equal(t, int64(120), int64(cfg.Scheduler.TaskTimeout().Seconds()))
	assert.Equal(t, int64(500), cfg.Retry.InitialBackoff().Milliseconds())
	assert.Equal(t, int64(30000), cfg.Retry.MaxBackoff().Milliseconds())
}

func defaultsForTest() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite", Path: "test.db"},
		Scheduler: SchedulerConfig{
			Workers: 2, QueueCapacity: 16, TaskTimeoutSecs: 120,
			RequeueDelayMs: 10, HistoryLimit: 100, MonitorEverySecs: 5,
		},
		Retry: RetryConfig{
			MaxAttempts: 3, InitialBackoffMs: 500, MaxBackoffMs: 30000,
			Multiplier: 2.0, JitterFraction: 0.25,
		},
		Checkpoint: CheckpointConfig{IntervalStages: 1, CacheSize: 64},
		Decision: DecisionConfig{
			SubmitThreshold: 0.65, PriorityThreshold: 0.75, UrgentThreshold: 0.85,
			Weights: DefaultWeights(),
		},
		Submission: SubmissionConfig{MaxPerDay: 10, MaxPerOrganization: 2},
		ErrorLog:   ErrorLogConfig{Dir: "errors", HistorySize: 100},
		Server:     ServerConfig{Port: 8080},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}
