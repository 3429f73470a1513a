package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PipelineConfig is the file-backed, hot-reloadable part of the configuration.
type PipelineConfig struct {
	Jobs    map[string]JobSettings `mapstructure:"jobs"`
	Rewards RewardSettings         `mapstructure:"rewards"`
}

type JobSettings struct {
	Enabled  *bool         `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
	LockTTL  time.Duration `mapstructure:"lockttl"`
}

func (s JobSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type RewardSettings struct {
	Denomination         string            `mapstructure:"denomination"`
	Amounts              map[string]string `mapstructure:"amounts"`
	CalculatorBatchSize  int               `mapstructure:"calculatorbatchsize"`
	BatchSize            int               `mapstructure:"batchsize"`
	MaxGroupSize         int               `mapstructure:"maxgroupsize"`
	MaxAttempts          int               `mapstructure:"maxattempts"`
	StaleLockAfter       time.Duration     `mapstructure:"stalelockafter"`
	EagerSettleThreshold int               `mapstructure:"eagersettlethreshold"`
}

// Amount returns the flat reward configured for an interaction type, zero when unset.
func (s RewardSettings) Amount(interactionType string) decimal.Decimal {
	raw, ok := s.Amounts[strings.ToLower(strings.TrimSpace(interactionType))]
	if !ok {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// Job returns the settings for a job. Viper lowercases keys, so lookups are case-insensitive.
func (c PipelineConfig) Job(name string) JobSettings {
	return c.Jobs[strings.ToLower(strings.TrimSpace(name))]
}

func boolPtr(v bool) *bool { return &v }

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Jobs: map[string]JobSettings{
			"cleanupexpiredtouchpoints": {Enabled: boolPtr(true), Schedule: "@daily", Timeout: 10 * time.Minute},
			"cleanuppairings":           {Enabled: boolPtr(true), Schedule: "0 */6 * * *", Timeout: 5 * time.Minute},
			"settlerewards":             {Enabled: boolPtr(true), Schedule: "@hourly", Timeout: 15 * time.Minute},
			"calculaterewards":          {Enabled: boolPtr(true), Schedule: "*/5 * * * *", Timeout: 2 * time.Minute},
			"confirmsettlements":        {Enabled: boolPtr(true), Schedule: "*/10 * * * *", Timeout: 2 * time.Minute},
		},
		Rewards: RewardSettings{
			Denomination: "LOYAL",
			Amounts: map[string]string{
				"purchase":         "10",
				"referral_arrival": "0",
				"wallet_connect":   "1",
				"identity_merge":   "0",
			},
			CalculatorBatchSize:  500,
			BatchSize:            200,
			MaxGroupSize:         50,
			MaxAttempts:          5,
			StaleLockAfter:       30 * time.Minute,
			EagerSettleThreshold: 100,
		},
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	defaults := DefaultPipelineConfig()
	if c.Jobs == nil {
		c.Jobs = map[string]JobSettings{}
	}
	for name, def := range defaults.Jobs {
		current, ok := c.Jobs[name]
		if !ok {
			c.Jobs[name] = def
			continue
		}
		if strings.TrimSpace(current.Schedule) == "" {
			current.Schedule = def.Schedule
		}
		if current.Timeout <= 0 {
			current.Timeout = def.Timeout
		}
		c.Jobs[name] = current
	}
	r := &c.Rewards
	if strings.TrimSpace(r.Denomination) == "" {
		r.Denomination = defaults.Rewards.Denomination
	}
	if r.Amounts == nil {
		r.Amounts = defaults.Rewards.Amounts
	}
	if r.CalculatorBatchSize <= 0 {
		r.CalculatorBatchSize = defaults.Rewards.CalculatorBatchSize
	}
	if r.BatchSize <= 0 {
		r.BatchSize = defaults.Rewards.BatchSize
	}
	if r.MaxGroupSize <= 0 {
		r.MaxGroupSize = defaults.Rewards.MaxGroupSize
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaults.Rewards.MaxAttempts
	}
	if r.StaleLockAfter <= 0 {
		r.StaleLockAfter = defaults.Rewards.StaleLockAfter
	}
	return c
}

// PipelineConfigHolder serves the latest valid pipeline config.
type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfigHolder returns a holder that never reloads.
func NewStaticPipelineConfigHolder(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewPipelineConfigHolder(cfg Config, log *zap.Logger) (*PipelineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pipeline")

	v := viper.New()
	v.SetConfigName(cfg.Pipeline.Name)
	v.SetConfigType("yml")
	for _, path := range cfg.Pipeline.Paths {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("LOYALTYRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
		log.Info("pipeline config file not found, using defaults")
	}

	current, err := decodePipeline(v)
	if err != nil {
		return nil, err
	}

	holder := &PipelineConfigHolder{}
	holder.current.Store(current)

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePipeline(v)
			if err != nil {
				log.Warn("pipeline config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("pipeline config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func decodePipeline(v *viper.Viper) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return PipelineConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := validatePipelineConfig(cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	return h.current.Load().(PipelineConfig)
}

func validatePipelineConfig(cfg PipelineConfig) error {
	for kind, raw := range cfg.Rewards.Amounts {
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("rewards.amounts.%s: %w", kind, err)
		}
		if amount.IsNegative() {
			return fmt.Errorf("rewards.amounts.%s cannot be negative", kind)
		}
	}
	if cfg.Rewards.MaxGroupSize > cfg.Rewards.BatchSize {
		return errors.New("rewards.maxGroupSize cannot exceed rewards.batchSize")
	}
	for name, job := range cfg.Jobs {
		if strings.TrimSpace(job.Schedule) == "" {
			return fmt.Errorf("jobs.%s.schedule cannot be empty", name)
		}
	}
	return nil
}
