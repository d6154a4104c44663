package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"risksync/internal/models"
	"risksync/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configDir         = "configs"
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	stateFileENV      = "STATE_FILE"
	loopIntervalENV   = "LOOP_INTERVAL"
	ignoreNoSLENV     = "IGNORE_NO_SL"
	logLevelENV       = "LOG_LEVEL"
)

// Config ...
type Config struct {
	Master models.Account        `yaml:"master"`
	Slaves []models.SlaveAccount `yaml:"slaves"`

	// Не копировать позиции мастера без SL (по умолчанию, не копируем)
	IgnoreNoSL   bool          `yaml:"ignore_no_sl"`
	LoopInterval time.Duration `yaml:"loop_interval"`
	TradeComment string        `yaml:"trade_comment"`

	StateFile string `yaml:"state_file"`
	DB        string `yaml:"db_dsn"` // если задан, стейт храним в postgres

	Dispatch struct {
		Workers     int           `yaml:"workers"`
		OpTimeout   time.Duration `yaml:"op_timeout"`
		TickTimeout time.Duration `yaml:"tick_timeout"`
	} `yaml:"dispatch"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Tracing tracing.Config `yaml:"tracing"`

	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default: значения, которые остаются, если в yaml ключа нет.
func Default() Config {
	cfg := Config{
		IgnoreNoSL:   true,
		LoopInterval: 200 * time.Millisecond,
		TradeComment: "RiskSync",
		StateFile:    "state.json",
	}
	cfg.Dispatch.Workers = 4
	cfg.Dispatch.OpTimeout = 10 * time.Second
	cfg.Dispatch.TickTimeout = 30 * time.Second
	cfg.Service.AdminPort = 8080
	cfg.Log.Level = "info"
	return cfg
}

func NewConfig() (*Config, error) {
	env := viper.New()
	env.AutomaticEnv()
	env.SetDefault(configFilePathENV, "values_local.yaml")

	cfg, err := Load(filepath.Join(configDir, env.GetString(configFilePathENV)))
	if err != nil {
		return nil, err
	}

	applyEnv(env, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load читает yaml поверх дефолтов.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s", path)
	}
	return &config, nil
}

func applyEnv(env *viper.Viper, cfg *Config) {
	if v := env.GetString(tokenTelegramENV); v != "" {
		cfg.Telegram.Token = v
	}
	if env.IsSet(chatTelegramENV) {
		if id := env.GetInt64(chatTelegramENV); id != 0 {
			cfg.Telegram.ChatID = id
		}
	}
	if v := env.GetString(databaseDSN); v != "" {
		cfg.DB = v
	}
	if v := env.GetString(stateFileENV); v != "" {
		cfg.StateFile = v
	}
	if env.IsSet(loopIntervalENV) {
		if d := env.GetDuration(loopIntervalENV); d > 0 {
			cfg.LoopInterval = d
		}
	}
	if env.IsSet(ignoreNoSLENV) {
		cfg.IgnoreNoSL = env.GetBool(ignoreNoSLENV)
	}
	if v := env.GetString(logLevelENV); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Master.Login == 0 {
		return fmt.Errorf("master.login is required")
	}
	if c.Master.Endpoint == "" {
		return fmt.Errorf("master.endpoint is required")
	}
	if len(c.Slaves) == 0 {
		return fmt.Errorf("at least one slave is required")
	}

	seen := make(map[int64]struct{}, len(c.Slaves))
	for i, s := range c.Slaves {
		if s.Login == 0 {
			return fmt.Errorf("slaves[%d].login is required", i)
		}
		if s.Login == c.Master.Login {
			return fmt.Errorf("slaves[%d]: login %d is the master account", i, s.Login)
		}
		if _, dup := seen[s.Login]; dup {
			return fmt.Errorf("slaves[%d]: duplicate login %d", i, s.Login)
		}
		seen[s.Login] = struct{}{}
		if s.Endpoint == "" {
			return fmt.Errorf("slaves[%d].endpoint is required", i)
		}
		if s.RiskUSD <= 0 && s.FixedVolume <= 0 {
			return fmt.Errorf("slaves[%d]: risk_usd must be > 0", i)
		}
	}

	if c.LoopInterval <= 0 {
		return fmt.Errorf("loop_interval must be > 0")
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 1
	}
	return nil
}

// HealthAddr: адрес admin http (health + metrics).
func (c *Config) HealthAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.AdminPort)
}
