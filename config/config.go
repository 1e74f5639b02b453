package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"backtest-systemv1/internal/backtest"
	"backtest-systemv1/internal/logger"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/optimizer"
	"backtest-systemv1/internal/portfolio"
	"backtest-systemv1/internal/strategy"
)

// requiredKeys must be present at the top level of the YAML file.
var requiredKeys = []string{
	"ticker",
	"start_date",
	"end_date",
	"target_return_pct",
	"min_holding_days",
	"max_holding_days",
	"walk_forward_train_years",
	"walk_forward_test_months",
	"transaction_cost_pct",
	"initial_ma_short",
	"initial_ma_long",
}

// Config holds the backtest configuration loaded from YAML.
// Percentages (target_return_pct, transaction_cost_pct) are in percent.
type Config struct {
	Ticker                string  `yaml:"ticker" validate:"required"`
	StartDate             string  `yaml:"start_date" validate:"required"`
	EndDate               string  `yaml:"end_date" validate:"required"`
	TargetReturnPct       float64 `yaml:"target_return_pct" validate:"gte=0"`
	MinHoldingDays        int     `yaml:"min_holding_days" validate:"gte=0"`
	MaxHoldingDays        int     `yaml:"max_holding_days" validate:"gte=0"`
	WalkForwardTrainYears int     `yaml:"walk_forward_train_years" validate:"gt=0"`
	WalkForwardTestMonths int     `yaml:"walk_forward_test_months" validate:"gt=0"`
	TransactionCostPct    float64 `yaml:"transaction_cost_pct" validate:"gte=0,lt=100"`
	InitialMAShort        int     `yaml:"initial_ma_short" validate:"gt=0"`
	InitialMALong         int     `yaml:"initial_ma_long" validate:"gtfield=InitialMAShort"`

	InitialCash      float64 `yaml:"initial_cash" default:"100000" validate:"gt=0"`
	Slippage         float64 `yaml:"slippage" validate:"gte=0"`
	PositionFraction float64 `yaml:"position_fraction" default:"1" validate:"gt=0,lte=1"`
	RegimeWindow     int     `yaml:"regime_window" default:"20" validate:"gt=0"`
	RSIPeriod        int     `yaml:"rsi_period" default:"14" validate:"gt=0"`
	RSIFilter        bool    `yaml:"rsi_filter"`
	CloseAtEnd       bool    `yaml:"close_at_end"`

	Optimizer OptimizerConfig `yaml:"optimizer"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   logger.Config   `yaml:"logging"`

	start, end time.Time
}

// OptimizerConfig is the grid searched by optimize and walkforward.
type OptimizerConfig struct {
	Workers      int   `yaml:"workers" default:"4" validate:"gt=0"`
	ShortWindows []int `yaml:"short_windows" default:"[5,10,20]" validate:"min=1,dive,gt=0"`
	LongWindows  []int `yaml:"long_windows" default:"[30,50,100]" validate:"min=1,dive,gt=0"`
	RSIPeriods   []int `yaml:"rsi_periods" validate:"omitempty,dive,gt=0"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path" default:"data/backtest.db"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	ScanTTL  time.Duration `yaml:"scan_ttl" default:"10m"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	Topic   string   `yaml:"topic" default:"backtest.results"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// NotifyConfig selects run alert channels. Empty fields disable a channel.
type NotifyConfig struct {
	WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id" validate:"required_with=TelegramBotToken"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// LoadWithEnv is Load followed by environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates. Every missing
// required key is named in the error.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", model.ErrValidation, err)
	}
	var missing []string
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required config key(s): %s", model.ErrValidation, strings.Join(missing, ", "))
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", model.ErrValidation, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and parses the date range.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", keyPath(e.Namespace()), e.Tag()))
			}
			sort.Strings(msgs)
			return fmt.Errorf("%w: invalid config: %s", model.ErrValidation, strings.Join(msgs, "; "))
		}
		return err
	}

	start, err := parseDate("start_date", c.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("end_date", c.EndDate)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end_date %s must be after start_date %s", model.ErrValidation, c.EndDate, c.StartDate)
	}
	if c.MaxHoldingDays > 0 && c.MinHoldingDays > c.MaxHoldingDays {
		return fmt.Errorf("%w: min_holding_days %d exceeds max_holding_days %d",
			model.ErrValidation, c.MinHoldingDays, c.MaxHoldingDays)
	}
	c.start, c.end = start, end
	return nil
}

// Start returns the parsed start_date.
func (c *Config) Start() time.Time { return c.start }

// End returns the parsed end_date.
func (c *Config) End() time.Time { return c.end }

// BacktestConfig converts to engine settings. Percentages become fractions.
func (c *Config) BacktestConfig() (backtest.Config, error) {
	sizer, err := portfolio.NewSizer(c.PositionFraction)
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{
		Ticker:         c.Ticker,
		InitialCash:    c.InitialCash,
		CommissionRate: c.TransactionCostPct / 100,
		Slippage:       c.Slippage,
		Sizer:          sizer,
		TargetReturn:   c.TargetReturnPct / 100,
		MinHoldingDays: c.MinHoldingDays,
		MaxHoldingDays: c.MaxHoldingDays,
		RegimeWindow:   c.RegimeWindow,
		CloseAtEnd:     c.CloseAtEnd,
	}, nil
}

// Strategy returns the crossover strategy with the initial windows.
func (c *Config) Strategy() strategy.SMACrossover {
	s := strategy.SMACrossover{Short: c.InitialMAShort, Long: c.InitialMALong}
	if c.RSIFilter {
		s.RSIPeriod = c.RSIPeriod
	}
	return s
}

// ParamRanges returns the optimizer grid.
func (c *Config) ParamRanges() optimizer.ParamRanges {
	r := optimizer.ParamRanges{
		optimizer.ParamShort: c.Optimizer.ShortWindows,
		optimizer.ParamLong:  c.Optimizer.LongWindows,
	}
	if c.RSIFilter && len(c.Optimizer.RSIPeriods) > 0 {
		r[optimizer.ParamRSI] = c.Optimizer.RSIPeriods
	}
	return r
}

// Template bundles the engine and strategy settings for the optimizer.
func (c *Config) Template() (optimizer.Template, error) {
	bt, err := c.BacktestConfig()
	if err != nil {
		return optimizer.Template{}, err
	}
	return optimizer.Template{Backtest: bt, Strategy: c.Strategy()}, nil
}

func (c *Config) applyEnv() {
	c.Ticker = getEnv("BT_TICKER", c.Ticker)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramBotToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
}

func parseDate(key, value string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not a %s date", model.ErrValidation, key, value, model.DateLayout)
	}
	return t, nil
}

// keyPath turns "Config.optimizer.workers" into "optimizer.workers".
func keyPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
