package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TelegramBotToken  string `yaml:"telegram_bot_token"`
	DatabaseURL       string `yaml:"database_url"`
	RedisURL          string `yaml:"redis_url" default:"localhost:6379"`
	CoinGeckoPollSecs int    `yaml:"coingecko_poll_secs" default:"60" validate:"gt=0"`

	HTTPPort  int    `yaml:"http_port" default:"8080" validate:"gt=0,lte=65535"`
	APIKey    string `yaml:"api_key"`
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" default:"json" validate:"oneof=json console"`

	Trading    Trading    `yaml:"trading"`
	Automation Automation `yaml:"automation"`
}

// Trading holds the paper-trading and prediction options.
type Trading struct {
	InitialBalance      float64 `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	FeeBpsPerSide       float64 `yaml:"fee_bps_per_side" default:"10" validate:"gte=0,lt=10000"`
	MaxPositionFraction float64 `yaml:"max_position_fraction" default:"0.1" validate:"gt=0,lte=1"`
	StopLossPct         float64 `yaml:"stop_loss_pct" default:"0.05" validate:"gt=0,lt=1"`
	TakeProfitPct       float64 `yaml:"take_profit_pct" default:"0.15" validate:"gt=0"`

	MinConfidenceGeneration float64 `yaml:"min_confidence_generation" default:"0.6" validate:"gte=0,lte=1"`
	MinReturnGeneration     float64 `yaml:"min_return_generation" default:"0.02" validate:"gte=0"`
	ExecutionConfidenceGate float64 `yaml:"execution_confidence_gate" default:"0.59" validate:"gte=0,lte=1"`
	ExecutionReturnGate     float64 `yaml:"execution_return_gate" default:"0.012" validate:"gte=0"`

	PredictionHorizonHours int `yaml:"prediction_horizon_hours" default:"24" validate:"gt=0,lte=720"`
	IndicatorLookbackBars  int `yaml:"indicator_lookback_bars" default:"400" validate:"gte=100"`
	MinPredictionBars      int `yaml:"min_prediction_bars" default:"100" validate:"gte=100"`
	MaxOpenPerSymbol       int `yaml:"max_open_per_symbol" default:"1" validate:"gte=1"`

	EarlyExitHorizonHours   int     `yaml:"early_exit_horizon_hours" default:"6" validate:"gt=0"`
	EarlyExitConfidenceGate float64 `yaml:"early_exit_confidence_gate" default:"0.65" validate:"gte=0,lte=1"`
	EarlyExitReturnGate     float64 `yaml:"early_exit_return_gate" default:"0.01" validate:"gte=0"`

	MetricsWindowDays int `yaml:"metrics_window_days" default:"30" validate:"gt=0"`
}

type Automation struct {
	Enabled      bool `yaml:"enabled"`
	IntervalSecs int  `yaml:"interval_secs" default:"900" validate:"gt=0"`
	Concurrency  int  `yaml:"concurrency" default:"4" validate:"gt=0"`
}

var validate = validator.New()

// Load builds the config from struct defaults, an optional YAML file named by
// CONFIG_FILE, and environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory trade store")
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_URL", &cfg.RedisURL)
	envInt("COINGECKO_POLL_SECS", &cfg.CoinGeckoPollSecs)
	envInt("HTTP_PORT", &cfg.HTTPPort)
	envString("API_KEY", &cfg.APIKey)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FORMAT", &cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	t := &cfg.Trading
	envFloat("INITIAL_BALANCE", &t.InitialBalance)
	envFloat("FEE_BPS_PER_SIDE", &t.FeeBpsPerSide)
	envFloat("MAX_POSITION_FRACTION", &t.MaxPositionFraction)
	envFloat("STOP_LOSS_PCT", &t.StopLossPct)
	envFloat("TAKE_PROFIT_PCT", &t.TakeProfitPct)
	envFloat("MIN_CONFIDENCE_GENERATION", &t.MinConfidenceGeneration)
	envFloat("MIN_RETURN_GENERATION", &t.MinReturnGeneration)
	envFloat("EXECUTION_CONFIDENCE_GATE", &t.ExecutionConfidenceGate)
	envFloat("EXECUTION_RETURN_GATE", &t.ExecutionReturnGate)
	envInt("PREDICTION_HORIZON_HOURS", &t.PredictionHorizonHours)
	envInt("INDICATOR_LOOKBACK_BARS", &t.IndicatorLookbackBars)
	envInt("MIN_PREDICTION_BARS", &t.MinPredictionBars)
	envInt("MAX_OPEN_PER_SYMBOL", &t.MaxOpenPerSymbol)
	envInt("EARLY_EXIT_HORIZON_HOURS", &t.EarlyExitHorizonHours)
	envFloat("EARLY_EXIT_CONFIDENCE_GATE", &t.EarlyExitConfidenceGate)
	envFloat("EARLY_EXIT_RETURN_GATE", &t.EarlyExitReturnGate)
	envInt("METRICS_WINDOW_DAYS", &t.MetricsWindowDays)

	envBool("AUTOMATION_ENABLED", &cfg.Automation.Enabled)
	envInt("AUTOMATION_INTERVAL_SECS", &cfg.Automation.IntervalSecs)
	envInt("AUTOMATION_CONCURRENCY", &cfg.Automation.Concurrency)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envInt keeps the current value when the variable is unset, unparsable or
// not positive.
func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid integer")
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid number")
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid bool")
		return
	}
	*dst = b
}
