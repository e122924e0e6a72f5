package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tokens    []TokenConfig   `mapstructure:"tokens"`
	PaaS      PaaSConfig      `mapstructure:"paas"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type RPCConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Commitment     string        `mapstructure:"commitment"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type WalletConfig struct {
	// Path is a Solana keygen JSON file holding the funder key.
	Path string `mapstructure:"path"`
	// RecoveryDir, when set, receives keys of disposable identities whose
	// output could not be delivered.
	RecoveryDir string `mapstructure:"recovery_dir"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Watch  bool   `mapstructure:"watch"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type ScheduleConfig struct {
	AnchorHour   int    `mapstructure:"anchor_hour"`
	AnchorMinute int    `mapstructure:"anchor_minute"`
	Weekday      int    `mapstructure:"weekday"`
	MonthDay     int    `mapstructure:"month_day"`
	Timezone     string `mapstructure:"timezone"`
}

type PipelineConfig struct {
	StrictPrivacy bool          `mapstructure:"strict_privacy"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	// ScreeningAPIKey is used by scheduled runs; one-shot runs may pass their own.
	ScreeningAPIKey string `mapstructure:"screening_api_key"`
}

type ProvidersConfig struct {
	Quote        QuoteProviderConfig `mapstructure:"quote"`
	Screen       ProviderConfig      `mapstructure:"screen"`
	Pool         ProviderConfig      `mapstructure:"pool"`
	Shielded     ProviderConfig      `mapstructure:"shielded"`
	Confidential ProviderConfig      `mapstructure:"confidential"`
}

type QuoteProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

type ProviderConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type CacheConfig struct {
	Driver        string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// PaaSConfig points at the easyweb3 platform used for audit logs. Empty
// BaseURL or APIKey disables it.
type PaaSConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Agent          string `mapstructure:"agent"`
	AuthDisabled   bool   `mapstructure:"auth_disabled"`
	RequireGateway bool   `mapstructure:"require_gateway"`
	// JWTSecret, when set, makes the API verify platform-issued HS256 tokens
	// itself instead of trusting the gateway.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Mint     string `mapstructure:"mint"`
	Decimals int    `mapstructure:"decimals"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SDCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("rpc.endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.commitment", "confirmed")
	v.SetDefault("rpc.confirm_timeout", "90s")
	v.SetDefault("rpc.poll_interval", "2s")

	v.SetDefault("wallet.path", "~/.config/solana/id.json")
	v.SetDefault("wallet.recovery_dir", "")

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "~/.stealth-dca")
	v.SetDefault("store.watch", true)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("schedule.anchor_hour", 9)
	v.SetDefault("schedule.anchor_minute", 0)
	v.SetDefault("schedule.weekday", 1)
	v.SetDefault("schedule.month_day", 1)
	v.SetDefault("schedule.timezone", "UTC")

	v.SetDefault("pipeline.strict_privacy", false)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_interval", "500ms")
	v.SetDefault("pipeline.run_timeout", "5m")

	v.SetDefault("providers.quote.base_url", "https://lite-api.jup.ag/swap/v1")
	v.SetDefault("providers.quote.timeout", "15s")
	v.SetDefault("providers.quote.rate_per_second", 1.0)
	v.SetDefault("providers.screen.enabled", true)
	v.SetDefault("providers.screen.base_url", "https://api.gopluslabs.io")
	v.SetDefault("providers.screen.timeout", "8s")
	v.SetDefault("providers.screen.cache_ttl", "10m")
	v.SetDefault("providers.pool.enabled", false)
	v.SetDefault("providers.pool.timeout", "60s")
	v.SetDefault("providers.shielded.enabled", false)
	v.SetDefault("providers.shielded.timeout", "60s")
	v.SetDefault("providers.confidential.enabled", false)
	v.SetDefault("providers.confidential.timeout", "15s")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("paas.base_url", "")
	v.SetDefault("paas.api_key", "")
	v.SetDefault("paas.agent", "stealth-dca")
	v.SetDefault("paas.auth_disabled", false)
	v.SetDefault("paas.require_gateway", false)
	v.SetDefault("paas.jwt_secret", "")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ExpandHome resolves a leading "~" against the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
