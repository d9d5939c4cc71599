package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/scoutdata/medallion/internal/db"

	"github.com/spf13/viper"
)

// HTTPConfig holds the ingest/metrics listener settings.
type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

// PipelineConfig holds every scheduling and threshold knob of the core.
// All of these are deployment configuration, never hard-coded.
type PipelineConfig struct {
	BatchSize     int
	MinConfidence float64

	ValidatorCadence time.Duration
	AggregateCadence time.Duration
	MonitorCadence   time.Duration
	RetentionCadence time.Duration
	JobTimeout       time.Duration

	LookbackDays int

	BacklogThreshold   int64
	BacklogMinAge      time.Duration
	StalenessThreshold time.Duration

	RetentionDays int
}

// Config is the full application configuration.
type Config struct {
	Database db.Config
	HTTP     HTTPConfig
	Pipeline PipelineConfig
}

// Load reads config.yaml from configPath (optional) with environment
// overrides, on top of built-in defaults.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Pipeline: PipelineConfig{
			BatchSize:          500,
			MinConfidence:      0.7,
			ValidatorCadence:   2 * time.Minute,
			AggregateCadence:   1 * time.Hour,
			MonitorCadence:     5 * time.Minute,
			RetentionCadence:   24 * time.Hour,
			JobTimeout:         10 * time.Minute,
			LookbackDays:       30,
			BacklogThreshold:   1000,
			BacklogMinAge:      15 * time.Minute,
			StalenessThreshold: 3 * time.Hour,
			RetentionDays:      14,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("PIPELINE")
	// Dots in keys become underscores, so database.host is overridable
	// as PIPELINE_DATABASE_HOST.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	applyDatabase(v, &cfg.Database)
	applyHTTP(v, &cfg.HTTP)
	applyPipeline(v, &cfg.Pipeline)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate enforces cross-knob invariants.
func (c Config) Validate() error {
	p := c.Pipeline
	if p.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive, got %d", p.BatchSize)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("pipeline.min_confidence must be within [0,1], got %f", p.MinConfidence)
	}
	if p.LookbackDays <= 0 {
		return fmt.Errorf("pipeline.lookback_days must be positive, got %d", p.LookbackDays)
	}
	// Retention must never be able to race an in-flight validator batch:
	// the sweep only deletes processed events, and it must also sit far
	// outside any plausible batch lookback.
	if time.Duration(p.RetentionDays)*24*time.Hour <= p.JobTimeout+p.BacklogMinAge {
		return fmt.Errorf("pipeline.retention_days (%d) is too small relative to job timeout and backlog age", p.RetentionDays)
	}
	return nil
}

func applyDatabase(v *viper.Viper, cfg *db.Config) {
	if v.IsSet("database.host") {
		cfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.SSLMode = v.GetString("database.sslmode")
	}
}

func applyHTTP(v *viper.Viper, cfg *HTTPConfig) {
	if v.IsSet("http.addr") {
		cfg.Addr = v.GetString("http.addr")
	}
	if v.IsSet("http.allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("http.allowed_origins")
	}
}

func applyPipeline(v *viper.Viper, cfg *PipelineConfig) {
	if v.IsSet("pipeline.batch_size") {
		cfg.BatchSize = v.GetInt("pipeline.batch_size")
	}
	if v.IsSet("pipeline.min_confidence") {
		cfg.MinConfidence = v.GetFloat64("pipeline.min_confidence")
	}
	if v.IsSet("pipeline.validator_cadence") {
		cfg.ValidatorCadence = v.GetDuration("pipeline.validator_cadence")
	}
	if v.IsSet("pipeline.aggregate_cadence") {
		cfg.AggregateCadence = v.GetDuration("pipeline.aggregate_cadence")
	}
	if v.IsSet("pipeline.monitor_cadence") {
		cfg.MonitorCadence = v.GetDuration("pipeline.monitor_cadence")
	}
	if v.IsSet("pipeline.retention_cadence") {
		cfg.RetentionCadence = v.GetDuration("pipeline.retention_cadence")
	}
	if v.IsSet("pipeline.job_timeout") {
		cfg.JobTimeout = v.GetDuration("pipeline.job_timeout")
	}
	if v.IsSet("pipeline.lookback_days") {
		cfg.LookbackDays = v.GetInt("pipeline.lookback_days")
	}
	if v.IsSet("pipeline.backlog_threshold") {
		cfg.BacklogThreshold = v.GetInt64("pipeline.backlog_threshold")
	}
	if v.IsSet("pipeline.backlog_min_age") {
		cfg.BacklogMinAge = v.GetDuration("pipeline.backlog_min_age")
	}
	if v.IsSet("pipeline.staleness_threshold") {
		cfg.StalenessThreshold = v.GetDuration("pipeline.staleness_threshold")
	}
	if v.IsSet("pipeline.retention_days") {
		cfg.RetentionDays = v.GetInt("pipeline.retention_days")
	}
}
