package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"onion-alerts/internal/domain"
)

// Config -
type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Billing    BillingConfig    `mapstructure:"billing"`
	Store      StoreConfig      `mapstructure:"store"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	App        AppConfig        `mapstructure:"app"`
}

type TelegramConfig struct {
	BotToken    string  `mapstructure:"bot_token"`
	AdminIDs    []int64 `mapstructure:"-"` // decoded from telegram.admin_ids
	PauseEvery  int     `mapstructure:"pause_every"`  // pause after N messages in one broadcast
	PauseMs     int     `mapstructure:"pause_ms"`     // pause length
	SendTimeout int     `mapstructure:"send_timeout"` // seconds per message
}

type ScannerConfig struct {
	Interval        int      `mapstructure:"interval"` // seconds
	Chains          []string `mapstructure:"chains"`
	RequestTimeout  int      `mapstructure:"request_timeout"`
	MaxPairsPerFeed int      `mapstructure:"max_pairs_per_feed"`
	SymbolMaxLen    int      `mapstructure:"symbol_max_len"`
	MaxBackoff      int      `mapstructure:"max_backoff"` // seconds, cap for failed-cycle backoff
	DexScreenerURL  string   `mapstructure:"dexscreener_url"`
}

// ThresholdsConfig has no defaults. Every value must be set and positive.
type ThresholdsConfig struct {
	MinLiquidity    float64 `mapstructure:"min_liquidity"`
	MinFDV          float64 `mapstructure:"min_fdv"`
	MinVolume5m     float64 `mapstructure:"min_volume_5m"`
	MediumLiquidity float64 `mapstructure:"medium_liquidity"`
	MediumFDV       float64 `mapstructure:"medium_fdv"`
	MediumVolume5m  float64 `mapstructure:"medium_volume_5m"`
	MaxSpikeRatio   float64 `mapstructure:"max_spike_ratio"`
	LargeBuyUSD     float64 `mapstructure:"large_buy_usd"`
}

type ClassifierConfig struct {
	RepeatSynthetic bool `mapstructure:"repeat_synthetic"`
}

type SafetyConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	BaseURL        string            `mapstructure:"base_url"`
	ChainIDs       map[string]string `mapstructure:"chain_ids"`
	FailOpenChains []string          `mapstructure:"fail_open_chains"`
	CacheTTL       int               `mapstructure:"cache_ttl"` // minutes
	Timeout        int               `mapstructure:"timeout"`   // seconds
}

type BillingConfig struct {
	FreeAlerts       int     `mapstructure:"free_alerts"`
	PriceUSD         float64 `mapstructure:"price_usd"`
	SubscriptionDays int     `mapstructure:"subscription_days"`
	BSCWallet        string  `mapstructure:"bsc_wallet"`
	SOLWallet        string  `mapstructure:"sol_wallet"`
	USDTContract     string  `mapstructure:"usdt_contract"`
	ExplorerBaseURL  string  `mapstructure:"explorer_base_url"`
	ExplorerAPIKey   string  `mapstructure:"explorer_api_key"`
}

type StoreConfig struct {
	Driver         string `mapstructure:"driver"` // json | bolt
	Path           string `mapstructure:"path"`
	SaveInterval   int    `mapstructure:"save_interval"` // seconds
	RetentionHours int    `mapstructure:"retention_hours"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// AppConfig -
type AppConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogDir  string `mapstructure:"log_dir"`
}

// LoadConfig from env, config file and flags. Precedence:
// 1. defaults
// 2. config.yaml
// 3. .env file
// 4. environment
// 5. flags (if fs is not nil)
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("etc")
		_ = v.ReadInConfig() // optional
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setupEnvAliases(v)

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFromViper decodes and validates an already populated viper instance.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// List values from .env or env come in as "a,b,c".
	config.Scanner.Chains = stringList(v.Get("scanner.chains"))
	config.Safety.FailOpenChains = stringList(v.Get("safety.fail_open_chains"))
	ids, err := int64List(v.Get("telegram.admin_ids"))
	if err != nil {
		return nil, fmt.Errorf("telegram.admin_ids: %w", err)
	}
	config.Telegram.AdminIDs = ids

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setupEnvAliases(v *viper.Viper) {
	// Telegram
	_ = v.BindEnv("telegram.bot_token", "BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.admin_ids", "ADMIN_IDS")

	// Scanner
	_ = v.BindEnv("scanner.interval", "SCAN_INTERVAL")
	_ = v.BindEnv("scanner.chains", "SCAN_CHAINS")

	// Thresholds
	_ = v.BindEnv("thresholds.min_liquidity", "MIN_LIQUIDITY")
	_ = v.BindEnv("thresholds.min_fdv", "MIN_FDV")
	_ = v.BindEnv("thresholds.min_volume_5m", "MIN_VOLUME_5M")
	_ = v.BindEnv("thresholds.medium_liquidity", "MEDIUM_LIQUIDITY")
	_ = v.BindEnv("thresholds.medium_fdv", "MEDIUM_FDV")
	_ = v.BindEnv("thresholds.medium_volume_5m", "MEDIUM_VOLUME_5M")
	_ = v.BindEnv("thresholds.max_spike_ratio", "MAX_SPIKE_RATIO")
	_ = v.BindEnv("thresholds.large_buy_usd", "LARGE_BUY_USD")

	// Safety
	_ = v.BindEnv("safety.enabled", "SAFETY_ENABLED")
	_ = v.BindEnv("safety.fail_open_chains", "SAFETY_FAIL_OPEN_CHAINS")

	// Billing
	_ = v.BindEnv("billing.bsc_wallet", "BSC_WALLET")
	_ = v.BindEnv("billing.sol_wallet", "SOL_WALLET")
	_ = v.BindEnv("billing.explorer_api_key", "BSCSCAN_API_KEY")

	// Store, metrics, app
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.path", "STORE_PATH")
	_ = v.BindEnv("metrics.listen", "METRICS_LISTEN")
	_ = v.BindEnv("app.data_dir", "APP_DATA_DIR")
	_ = v.BindEnv("app.log_dir", "APP_LOG_DIR")
}

// setDefaults by default. Thresholds are intentionally absent.
func setDefaults(v *viper.Viper) {
	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_ids", []int64{})
	v.SetDefault("telegram.pause_every", 25)
	v.SetDefault("telegram.pause_ms", 1000)
	v.SetDefault("telegram.send_timeout", 10)

	// Scanner
	v.SetDefault("scanner.interval", 60)
	v.SetDefault("scanner.chains", []string{"SOL", "BSC"})
	v.SetDefault("scanner.request_timeout", 15)
	v.SetDefault("scanner.max_pairs_per_feed", 50)
	v.SetDefault("scanner.symbol_max_len", 20)
	v.SetDefault("scanner.max_backoff", 300)
	v.SetDefault("scanner.dexscreener_url", "https://api.dexscreener.com")

	v.SetDefault("classifier.repeat_synthetic", false)

	// Safety
	v.SetDefault("safety.enabled", true)
	v.SetDefault("safety.base_url", "https://api.gopluslabs.io/api/v1")
	v.SetDefault("safety.chain_ids", map[string]string{"BSC": "56"})
	v.SetDefault("safety.fail_open_chains", []string{})
	v.SetDefault("safety.cache_ttl", 60)
	v.SetDefault("safety.timeout", 10)

	// Billing
	v.SetDefault("billing.free_alerts", 3)
	v.SetDefault("billing.price_usd", 29.99)
	v.SetDefault("billing.subscription_days", 30)
	v.SetDefault("billing.usdt_contract", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("billing.explorer_base_url", "https://api.bscscan.com/api")

	// Store
	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", "")
	v.SetDefault("store.save_interval", 60)
	v.SetDefault("store.retention_hours", 24)

	v.SetDefault("metrics.listen", "")

	// App
	v.SetDefault("app.data_dir", "data_in")
	v.SetDefault("app.log_dir", "logs")
}

// RegisterFlags adds the overridable keys to a cobra/pflag flag set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (default ./config.yaml)")
	fs.String("telegram.bot_token", "", "Telegram bot token (env: BOT_TOKEN)")
	fs.Int("scanner.interval", 60, "Scan interval in seconds (env: SCAN_INTERVAL)")
	fs.String("store.driver", "json", "Durable store driver: json or bolt (env: STORE_DRIVER)")
	fs.String("metrics.listen", "", "Address for /metrics, empty disables (env: METRICS_LISTEN)")
	fs.String("app.data_dir", "data_in", "Data directory (env: APP_DATA_DIR)")
	fs.String("app.log_dir", "logs", "Log directory (env: APP_LOG_DIR)")
}

// bindFlags binds only the flags the user actually set so defaults from
// the flag set never shadow config file values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

// RequireTelegram checks what the long-running bot needs beyond the base config.
func (c *Config) RequireTelegram() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	return nil
}

func validateConfig(cfg *Config) error {
	t := cfg.Thresholds
	required := []struct {
		key string
		val float64
	}{
		{"thresholds.min_liquidity", t.MinLiquidity},
		{"thresholds.min_fdv", t.MinFDV},
		{"thresholds.min_volume_5m", t.MinVolume5m},
		{"thresholds.medium_liquidity", t.MediumLiquidity},
		{"thresholds.medium_fdv", t.MediumFDV},
		{"thresholds.medium_volume_5m", t.MediumVolume5m},
		{"thresholds.max_spike_ratio", t.MaxSpikeRatio},
		{"thresholds.large_buy_usd", t.LargeBuyUSD},
	}
	for _, r := range required {
		if r.val <= 0 {
			return fmt.Errorf("%s is required and must be > 0", r.key)
		}
	}

	if len(cfg.Scanner.Chains) == 0 {
		return fmt.Errorf("scanner.chains must list at least one chain")
	}
	for _, c := range cfg.Scanner.Chains {
		if _, err := domain.ParseChain(c); err != nil {
			return fmt.Errorf("scanner.chains: %w", err)
		}
	}
	for _, c := range cfg.Safety.FailOpenChains {
		if _, err := domain.ParseChain(c); err != nil {
			return fmt.Errorf("safety.fail_open_chains: %w", err)
		}
	}
	if cfg.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be > 0")
	}
	switch cfg.Store.Driver {
	case "json", "bolt":
	default:
		return fmt.Errorf("store.driver must be json or bolt, got %q", cfg.Store.Driver)
	}
	if cfg.Billing.FreeAlerts < 0 {
		return fmt.Errorf("billing.free_alerts must be >= 0")
	}
	return nil
}

// ScanChains returns the configured chains, already validated.
func (c *Config) ScanChains() []domain.Chain {
	out := make([]domain.Chain, 0, len(c.Scanner.Chains))
	for _, s := range c.Scanner.Chains {
		if ch, err := domain.ParseChain(s); err == nil {
			out = append(out, ch)
		}
	}
	return out
}

// SafetyChainIDs maps configured chains to oracle chain ids.
func (c *Config) SafetyChainIDs() map[domain.Chain]string {
	out := make(map[domain.Chain]string, len(c.Safety.ChainIDs))
	for k, id := range c.Safety.ChainIDs {
		if ch, err := domain.ParseChain(k); err == nil && id != "" {
			out[ch] = id
		}
	}
	return out
}

func (c *Config) FailOpenChains() domain.ChainSet {
	s := domain.NewChainSet()
	for _, k := range c.Safety.FailOpenChains {
		if ch, err := domain.ParseChain(k); err == nil {
			s[ch] = true
		}
	}
	return s
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.Interval) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionHours) * time.Hour
}

// StorePath falls back to data_dir/state.{json,db}.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Driver == "bolt" {
		return c.App.DataDir + "/state.db"
	}
	return c.App.DataDir + "/state.json"
}

func stringList(raw interface{}) []string {
	switch val := raw.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(val) == "" {
			return []string{}
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	default:
		return []string{}
	}
}

func int64List(raw interface{}) ([]int64, error) {
	switch val := raw.(type) {
	case []int64:
		return val, nil
	case []int:
		out := make([]int64, 0, len(val))
		for _, n := range val {
			out = append(out, int64(n))
		}
		return out, nil
	}
	items := stringList(raw)
	out := make([]int64, 0, len(items))
	for _, s := range items {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}
