package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/skalibog/smcbot/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// ErrInvalid возвращается при некорректной конфигурации
var ErrInvalid = errors.New("некорректная конфигурация")

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance   BinanceConfig   `yaml:"binance"`
	Trading   TradingConfig   `yaml:"trading"`
	Candles   CandlesConfig   `yaml:"candles"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Execution ExecutionConfig `yaml:"execution"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Notify    NotifyConfig    `yaml:"notify"`
	API       APIConfig       `yaml:"api"`
	UI        UIConfig        `yaml:"ui"`
	Log       LogConfig       `yaml:"log"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
	StreamURL string `yaml:"stream_url"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbols     []string `yaml:"symbols"`
	HTFInterval string   `yaml:"htf_interval"`
	LTFInterval string   `yaml:"ltf_interval"`
	Quantity    float64  `yaml:"quantity"`
	Leverage    int      `yaml:"leverage"`
	RewardRatio float64  `yaml:"reward_ratio"`
	Backfill    int      `yaml:"backfill"`
}

// CandlesConfig настройки хранилища окон свечей
type CandlesConfig struct {
	Capacity int `yaml:"capacity"`
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	IntervalSeconds int             `yaml:"interval_seconds"`
	Detection       DetectionConfig `yaml:"detection"`
	Filter          FilterConfig    `yaml:"filter"`
	Risk            RiskConfig      `yaml:"risk"`
}

// DetectionConfig настройки детекторов зон
type DetectionConfig struct {
	TickSize              float64 `yaml:"tick_size"`
	MinGapTicks           int     `yaml:"min_gap_ticks"`
	DisplacementWindow    int     `yaml:"displacement_window"`
	MaxReboundCandles     int     `yaml:"max_rebound_candles"`
	LiquidityNeighborhood int     `yaml:"liquidity_neighborhood"`
	LiquidityTolerancePct float64 `yaml:"liquidity_tolerance_pct"`
	MaxLiquidityLevels    int     `yaml:"max_liquidity_levels"`
	BreakerVariant        string  `yaml:"breaker_variant"` // reversal|retest
}

// FilterConfig настройки фильтра premium/discount
type FilterConfig struct {
	Policy     string  `yaml:"policy"` // mid|asymmetric
	Window     int     `yaml:"window"`
	ZoneFactor float64 `yaml:"zone_factor"`
}

// RiskConfig настройки каскадов защитного уровня и стопа
type RiskConfig struct {
	MinDistancePct float64 `yaml:"min_distance_pct"`
	FallbackPct    float64 `yaml:"fallback_pct"`
	HTFLookback    int     `yaml:"htf_lookback"`
	SwingSpan      int     `yaml:"swing_span"`
	SwingLookback  int     `yaml:"swing_lookback"`
	ATRPeriod      int     `yaml:"atr_period"`
	ATRMultiplier  float64 `yaml:"atr_multiplier"`
	MSSLookback    int     `yaml:"mss_lookback"`
}

// ExecutionConfig настройки исполнения
type ExecutionConfig struct {
	Mode        string  `yaml:"mode"` // live|paper
	SlippagePct float64 `yaml:"slippage_pct"`
	TakerFee    float64 `yaml:"taker_fee"`
	MakerFee    float64 `yaml:"maker_fee"`
	Balance     float64 `yaml:"balance"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// RedisConfig настройки зеркала позиций в Redis
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NotifyConfig настройки уведомлений
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// APIConfig настройки HTTP API статуса и метрик
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
	Truncate bool   `yaml:"truncate"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Binance: BinanceConfig{
			StreamURL: "wss://fstream.binance.com/stream",
		},
		Trading: TradingConfig{
			HTFInterval: "15m",
			LTFInterval: "1m",
			Quantity:    0.01,
			Leverage:    1,
			RewardRatio: 2,
			Backfill:    150,
		},
		Candles: CandlesConfig{Capacity: 150},
		Analysis: AnalysisConfig{
			IntervalSeconds: 60,
			Detection: DetectionConfig{
				TickSize:              0.01,
				MinGapTicks:           3,
				DisplacementWindow:    3,
				MaxReboundCandles:     3,
				LiquidityNeighborhood: 10,
				LiquidityTolerancePct: 0.001,
				MaxLiquidityLevels:    10,
				BreakerVariant:        "reversal",
			},
			Filter: FilterConfig{
				Policy:     "mid",
				ZoneFactor: 0.3,
			},
			Risk: RiskConfig{
				MinDistancePct: 0.003,
				FallbackPct:    0.005,
				HTFLookback:    50,
				SwingSpan:      2,
				SwingLookback:  30,
				ATRPeriod:      14,
				ATRMultiplier:  2,
				MSSLookback:    10,
			},
		},
		Execution: ExecutionConfig{
			Mode:        "paper",
			SlippagePct: 0.0001,
			TakerFee:    0.0005,
			MakerFee:    0.0002,
			Balance:     10000,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "smcbot"},
		API:   APIConfig{Addr: ":8080"},
		UI:    UIConfig{RefreshRate: 1000},
		Log:   LogConfig{Level: "info", File: "app.log", JSONFile: "app.json.log"},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию.
// Секреты из окружения (.env) имеют приоритет над файлом.
func Load(path string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Не удалось прочитать .env", zap.Error(err))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.Strings("symbols", cfg.Trading.Symbols),
		zap.String("execution", cfg.Execution.Mode))
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Storage.Token = v
	}
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	switch {
	case len(c.Trading.Symbols) == 0:
		return fmt.Errorf("%w: не заданы символы", ErrInvalid)
	case c.Trading.HTFInterval == "" || c.Trading.LTFInterval == "":
		return fmt.Errorf("%w: не заданы таймфреймы", ErrInvalid)
	case c.Trading.HTFInterval == c.Trading.LTFInterval:
		return fmt.Errorf("%w: htf и ltf совпадают", ErrInvalid)
	case c.Trading.Quantity <= 0:
		return fmt.Errorf("%w: quantity должен быть > 0", ErrInvalid)
	case c.Trading.RewardRatio <= 0:
		return fmt.Errorf("%w: reward_ratio должен быть > 0", ErrInvalid)
	case c.Candles.Capacity < 3:
		return fmt.Errorf("%w: capacity должен быть >= 3", ErrInvalid)
	case c.Analysis.Detection.TickSize <= 0:
		return fmt.Errorf("%w: tick_size должен быть > 0", ErrInvalid)
	case c.Analysis.Filter.Policy != "mid" && c.Analysis.Filter.Policy != "asymmetric":
		return fmt.Errorf("%w: неизвестная политика фильтра %q", ErrInvalid, c.Analysis.Filter.Policy)
	case c.Analysis.Detection.BreakerVariant != "reversal" && c.Analysis.Detection.BreakerVariant != "retest":
		return fmt.Errorf("%w: неизвестный вариант брейкера %q", ErrInvalid, c.Analysis.Detection.BreakerVariant)
	case c.Analysis.Risk.FallbackPct < c.Analysis.Risk.MinDistancePct:
		return fmt.Errorf("%w: fallback_pct меньше min_distance_pct", ErrInvalid)
	case c.Execution.Mode != "live" && c.Execution.Mode != "paper":
		return fmt.Errorf("%w: неизвестный режим исполнения %q", ErrInvalid, c.Execution.Mode)
	case c.Execution.Mode == "live" && (c.Binance.APIKey == "" || c.Binance.APISecret == ""):
		return fmt.Errorf("%w: для live нужны ключи Binance", ErrInvalid)
	}
	return nil
}

// EvaluationInterval период цикла оценки входов
func (c *Config) EvaluationInterval() time.Duration {
	if c.Analysis.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Analysis.IntervalSeconds) * time.Second
}

// LoggerOptions переводит настройки логирования в опции логгера
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:       c.Log.Level,
		File:        c.Log.File,
		JSONFile:    c.Log.JSONFile,
		TruncateOld: c.Log.Truncate,
		// При включенном UI консоль занята
		Console: !c.UI.Enabled,
	}
}
