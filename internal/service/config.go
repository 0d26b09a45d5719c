// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Feed       FeedConfig       `mapstructure:"Feed"`
	Directory  DirectoryConfig  `mapstructure:"Directory"`
	MarketData MarketDataConfig `mapstructure:"MarketData"`
	Chart      ChartConfig      `mapstructure:"Chart"`
	Server     ServerConfig     `mapstructure:"Server"`
	Log        LogConfig        `mapstructure:"Log"`
}

// FeedConfig 实时行情流 (Binance combined stream) 的连接参数
type FeedConfig struct {
	WSBaseURL        string        // 为空时实时行情永久不可用 (ConfigurationMissing)
	QuoteAsset       string        // 由币种 symbol 推导交易对时使用的计价币，例如 USDT
	DefaultCadence   string        // K 线订阅周期，例如 "1m"
	Cadences         []string      // 允许选择的 K 线周期
	TradeCapacity    int           // 最近成交列表容量
	HandshakeTimeout time.Duration // WS 握手超时
}

// DirectoryConfig 交易对目录 (exchangeInfo) 的获取与缓存
type DirectoryConfig struct {
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
	Redis    RedisConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// MarketDataConfig 历史 K 线和币种快照的 REST 数据源
type MarketDataConfig struct {
	BaseURL           string
	APIKey            string
	VsCurrency        string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type ChartConfig struct {
	DefaultPeriod   string
	OverlayMAPeriod int // 0 表示不计算均线叠加
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// ErrMarketDataNotConfigured 表示 REST 数据源缺少 base url 或 api key，启动时视为致命错误
var ErrMarketDataNotConfigured = errors.New("market data base url and api key are required")

// Validate 只检查启动必需项；WS 地址缺失不是错误，行情流降级为不可用
func (c *Config) Validate() error {
	if c.MarketData.BaseURL == "" || c.MarketData.APIKey == "" {
		return ErrMarketDataNotConfigured
	}
	for _, cadence := range c.Feed.Cadences {
		if err := validateCadence(cadence); err != nil {
			return err
		}
	}
	if err := validateCadence(c.Feed.DefaultCadence); err != nil {
		return err
	}
	if !slices.Contains(c.Feed.Cadences, c.Feed.DefaultCadence) {
		return fmt.Errorf("default cadence %q is not in Feed.Cadences", c.Feed.DefaultCadence)
	}
	return nil
}

// validateCadence K 线周期必须是交易所的规范写法，例如 "60s" 应写作 "1m"
func validateCadence(cadence string) error {
	d, err := ParseIntervalDuration(cadence)
	if err != nil {
		return fmt.Errorf("invalid cadence: %w", err)
	}
	if canonical := FormatInterval(d); canonical != cadence {
		return fmt.Errorf("cadence %q should be written as %q", cadence, canonical)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Feed.QuoteAsset", "USDT")
	v.SetDefault("Feed.DefaultCadence", "1m")
	v.SetDefault("Feed.Cadences", []string{"1s", "1m", "5m", "15m", "1h"})
	v.SetDefault("Feed.TradeCapacity", 7)
	v.SetDefault("Feed.HandshakeTimeout", 10*time.Second)

	v.SetDefault("Directory.CacheTTL", time.Hour)
	v.SetDefault("Directory.Timeout", 10*time.Second)
	v.SetDefault("Directory.Redis.Addr", "localhost:6379")

	v.SetDefault("MarketData.VsCurrency", "usd")
	v.SetDefault("MarketData.RequestsPerSecond", 0.5)
	v.SetDefault("MarketData.Burst", 3)
	v.SetDefault("MarketData.Timeout", 15*time.Second)

	v.SetDefault("Chart.DefaultPeriod", "daily")
	v.SetDefault("Chart.OverlayMAPeriod", 20)

	v.SetDefault("Server.Addr", ":8080")

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.MaxSize", 100)
	v.SetDefault("Log.MaxBackups", 10)
	v.SetDefault("Log.MaxAge", 30)
	v.SetDefault("Log.Compress", true)
}

// 原有 dashboard 使用的环境变量，优先级高于配置文件
var envBindings = map[string]string{
	"Feed.WSBaseURL":       "BINANCE_WS_BASE_URL",
	"Directory.BaseURL":    "BINANCE_BASE_URL",
	"MarketData.BaseURL":   "COINGECKO_BASE_URL",
	"MarketData.APIKey":    "COINGECKO_API_KEY",
	"Directory.Redis.Addr": "REDIS_ADDR",
	"Server.Addr":          "HTTP_ADDR",
	"Log.Level":            "LOG_LEVEL",
}

// LoadConfig 读取 .env (可选) 和 configPath 下的 config.yaml (可选)，并解析到结构体
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	// 设置配置文件的名称、类型和路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	// 将配置绑定到结构体
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}
