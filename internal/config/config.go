// Package config loads and validates the registration engine's typed
// configuration (spec §6) via spf13/viper, replacing the teacher's raw
// os.Getenv calls with a single bound, validated struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/campusreg/registrar/internal/allocation"
	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/scoring"
)

// Config is every recognized option from spec §6, plus the ambient
// connection settings the teacher's deployment needs (Mongo, Redis,
// HTTP port, JWT signing key, Casbin policy path).
type Config struct {
	GPAWeight      float64 `mapstructure:"gpaWeight"`
	InterestWeight float64 `mapstructure:"interestWeight"`
	TimeWeight     float64 `mapstructure:"timeWeight"`
	YearWeight     float64 `mapstructure:"yearWeight"`
	PrereqWeight   float64 `mapstructure:"prereqWeight"`

	TimeDecayLambda float64 `mapstructure:"timeDecayLambda"`

	AllocationStrategy string `mapstructure:"allocationStrategy"`

	DefaultRows        int `mapstructure:"defaultRows"`
	DefaultSeatsPerRow int `mapstructure:"defaultSeatsPerRow"`

	RequestTimeoutMs int `mapstructure:"requestTimeoutMs"`

	HTTPPort int    `mapstructure:"httpPort"`
	MongoURI string `mapstructure:"mongoUri"`
	MongoDB  string `mapstructure:"mongoDatabase"`
	RedisURI string `mapstructure:"redisUri"`

	JWTSigningKey  string `mapstructure:"jwtSigningKey"`
	CasbinPolicyPath string `mapstructure:"casbinPolicyPath"`
}

// RequestTimeout returns RequestTimeoutMs as a time.Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Weights projects the scoring-related fields into a scoring.Weights.
func (c Config) Weights() scoring.Weights {
	return scoring.Weights{
		GPA:      c.GPAWeight,
		Interest: c.InterestWeight,
		Time:     c.TimeWeight,
		Year:     c.YearWeight,
		Prereq:   c.PrereqWeight,
	}
}

func defaults() Config {
	w := scoring.DefaultWeights()
	return Config{
		GPAWeight:          w.GPA,
		InterestWeight:     w.Interest,
		TimeWeight:         w.Time,
		YearWeight:         w.Year,
		PrereqWeight:       w.Prereq,
		TimeDecayLambda:    scoring.DefaultLambda,
		AllocationStrategy: string(allocation.Balanced),
		DefaultRows:        10,
		DefaultSeatsPerRow: 10,
		RequestTimeoutMs:   5000,
		HTTPPort:           8080,
		MongoURI:           "mongodb://localhost:27017",
		MongoDB:            "registrar",
		RedisURI:           "redis://localhost:6379/0",
		CasbinPolicyPath:   "configs/rbac_policy.csv",
	}
}

// Load reads configuration from environment variables (prefixed
// REGISTRAR_, nested keys joined by underscore) layered over the package
// defaults, and validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGISTRAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaults()
	for _, key := range []string{
		"gpaWeight", "interestWeight", "timeWeight", "yearWeight", "prereqWeight",
		"timeDecayLambda", "allocationStrategy", "defaultRows", "defaultSeatsPerRow",
		"requestTimeoutMs", "httpPort", "mongoUri", "mongoDatabase", "redisUri",
		"jwtSigningKey", "casbinPolicyPath",
	} {
		_ = v.BindEnv(key)
	}
	v.SetDefault("gpaWeight", cfg.GPAWeight)
	v.SetDefault("interestWeight", cfg.InterestWeight)
	v.SetDefault("timeWeight", cfg.TimeWeight)
	v.SetDefault("yearWeight", cfg.YearWeight)
	v.SetDefault("prereqWeight", cfg.PrereqWeight)
	v.SetDefault("timeDecayLambda", cfg.TimeDecayLambda)
	v.SetDefault("allocationStrategy", cfg.AllocationStrategy)
	v.SetDefault("defaultRows", cfg.DefaultRows)
	v.SetDefault("defaultSeatsPerRow", cfg.DefaultSeatsPerRow)
	v.SetDefault("requestTimeoutMs", cfg.RequestTimeoutMs)
	v.SetDefault("httpPort", cfg.HTTPPort)
	v.SetDefault("mongoUri", cfg.MongoURI)
	v.SetDefault("mongoDatabase", cfg.MongoDB)
	v.SetDefault("redisUri", cfg.RedisURI)
	v.SetDefault("casbinPolicyPath", cfg.CasbinPolicyPath)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apierr.Wrap(apierr.ConfigurationInvalid, "failed to unmarshal configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a Config spec §7 marks ConfigurationInvalid: bad
// weights or an unrecognized allocation strategy, which must be fatal at
// startup.
func (c Config) Validate() error {
	if err := c.Weights().Validate(); err != nil {
		return err
	}
	if c.TimeDecayLambda <= 0 {
		return apierr.New(apierr.ConfigurationInvalid, "timeDecayLambda must be positive")
	}
	if _, err := allocation.ParseStrategy(c.AllocationStrategy); err != nil {
		return err
	}
	if c.DefaultRows <= 0 || c.DefaultSeatsPerRow <= 0 {
		return apierr.New(apierr.ConfigurationInvalid, "defaultRows and defaultSeatsPerRow must be positive")
	}
	if c.RequestTimeoutMs <= 0 {
		return apierr.New(apierr.ConfigurationInvalid, "requestTimeoutMs must be positive")
	}
	return nil
}

// String renders a short, secret-free summary for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("allocationStrategy=%s timeDecayLambda=%.4f requestTimeoutMs=%d mongoDatabase=%s",
		c.AllocationStrategy, c.TimeDecayLambda, c.RequestTimeoutMs, c.MongoDB)
}
