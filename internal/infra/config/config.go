package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultRPCEndpoints are the public mainnet nodes rotated through after the
// optional primary endpoint.
var DefaultRPCEndpoints = []string{
	"https://api.mainnet-beta.solana.com",
	"https://solana-api.projectserum.com",
	"https://rpc.ankr.com/solana",
	"https://solana-mainnet.rpc.extrnode.com",
	"https://solana-mainnet.g.alchemy.com/v2/demo",
}

type Config struct {
	RPC      RPCConfig      `mapstructure:"rpc"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	App      AppConfig      `mapstructure:"app"`
}

type RPCConfig struct {
	Endpoint  string   `mapstructure:"endpoint"`  // preferred node, tried first
	Endpoints []string `mapstructure:"endpoints"` // rotation list after Endpoint
	RateLimit float64  `mapstructure:"rate_limit"`
	Burst     int      `mapstructure:"burst"`
}

type WatchConfig struct {
	Addresses []string `mapstructure:"addresses"`
}

type TelegramConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	ChatID    string `mapstructure:"chat_id"`
	Autostart bool   `mapstructure:"autostart"` // start monitoring without waiting for /start
}

type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	SignatureLimit int           `mapstructure:"signature_limit"`
}

type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Delay   time.Duration `mapstructure:"delay"`
}

type LedgerConfig struct {
	MaxPerAddress int `mapstructure:"max_per_address"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type AppConfig struct {
	LogDir   string `mapstructure:"log_dir"`
	LogLevel string `mapstructure:"log_level"`
}

// AllEndpoints returns the primary endpoint followed by the rotation list,
// without blanks or duplicates.
func (c *Config) AllEndpoints() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(c.RPC.Endpoints)+1)
	for _, e := range append([]string{c.RPC.Endpoint}, c.RPC.Endpoints...) {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Requirement selects which optional fields validation insists on.
type Requirement int

const (
	RequireAddresses Requirement = 1 << iota
	RequireChatID
	RequireBotToken
)

// LoadConfig layers, lowest priority first: defaults, config.yaml, .env,
// environment, flags. flags may be nil.
func LoadConfig(flags *pflag.FlagSet, req Requirement) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnv(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Lists arrive as YAML sequences or comma separated env/flag strings.
	cfg.RPC.Endpoints = stringList(v.Get("rpc.endpoints"))
	cfg.Watch.Addresses = stringList(v.Get("watch.addresses"))

	if err := Validate(&cfg, req); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("rpc.endpoint", "RPC_ENDPOINT")
	v.BindEnv("rpc.endpoints", "RPC_ENDPOINTS")
	v.BindEnv("rpc.rate_limit", "RPC_RATE_LIMIT")
	v.BindEnv("rpc.burst", "RPC_BURST")

	v.BindEnv("watch.addresses", "KOL_ADDRESSES")

	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
	v.BindEnv("telegram.autostart", "TELEGRAM_AUTOSTART")

	v.BindEnv("monitor.poll_interval", "POLL_INTERVAL")
	v.BindEnv("monitor.retry_interval", "RETRY_INTERVAL")
	v.BindEnv("monitor.fetch_timeout", "FETCH_TIMEOUT")
	v.BindEnv("monitor.signature_limit", "SIGNATURE_LIMIT")

	v.BindEnv("probe.timeout", "PROBE_TIMEOUT")
	v.BindEnv("probe.delay", "PROBE_DELAY")

	v.BindEnv("ledger.max_per_address", "LEDGER_MAX_PER_ADDRESS")

	v.BindEnv("metrics.listen_addr", "METRICS_LISTEN_ADDR")

	v.BindEnv("app.log_dir", "LOG_DIR")
	v.BindEnv("app.log_level", "LOG_LEVEL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.endpoint", "")
	v.SetDefault("rpc.endpoints", DefaultRPCEndpoints)
	v.SetDefault("rpc.rate_limit", 10.0)
	v.SetDefault("rpc.burst", 20)

	v.SetDefault("watch.addresses", []string{})

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.autostart", false)

	v.SetDefault("monitor.poll_interval", 10*time.Second)
	v.SetDefault("monitor.retry_interval", 5*time.Second)
	v.SetDefault("monitor.fetch_timeout", 30*time.Second)
	v.SetDefault("monitor.signature_limit", 0)

	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.delay", 5*time.Second)

	v.SetDefault("ledger.max_per_address", 0)

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.log_level", "debug")
}

// RegisterFlags declares the command-line overrides on fs. Flag names match
// config keys so viper binds them directly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("rpc.endpoint", "", "Preferred RPC endpoint (env: RPC_ENDPOINT)")
	fs.String("rpc.endpoints", "", "Comma-separated RPC endpoints to rotate through (env: RPC_ENDPOINTS)")
	fs.String("watch.addresses", "", "Comma-separated addresses to watch (env: KOL_ADDRESSES)")
	fs.String("telegram.chat_id", "", "Telegram chat id or @channel for notifications (env: TELEGRAM_CHAT_ID)")
	fs.Bool("telegram.autostart", false, "Start monitoring immediately instead of waiting for /start (env: TELEGRAM_AUTOSTART)")
	fs.Duration("monitor.poll_interval", 10*time.Second, "Pause between successful polls (env: POLL_INTERVAL)")
	fs.Duration("monitor.retry_interval", 5*time.Second, "Pause after a failed poll (env: RETRY_INTERVAL)")
	fs.String("metrics.listen_addr", "", "Address for the Prometheus /metrics endpoint, empty disables it (env: METRICS_LISTEN_ADDR)")
	fs.String("app.log_level", "debug", "File log level (env: LOG_LEVEL)")
}

func stringList(raw interface{}) []string {
	var items []string
	switch v := raw.(type) {
	case string:
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks cfg; req adds checks that only some commands need.
func Validate(cfg *Config, req Requirement) error {
	if req&RequireAddresses != 0 && len(cfg.Watch.Addresses) == 0 {
		return fmt.Errorf("at least one address is required: watch.addresses (env: KOL_ADDRESSES)")
	}
	if req&RequireChatID != 0 && strings.TrimSpace(cfg.Telegram.ChatID) == "" {
		return fmt.Errorf("notification destination is required: telegram.chat_id (env: TELEGRAM_CHAT_ID)")
	}
	if req&RequireBotToken != 0 && strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return fmt.Errorf("bot token is required: telegram.bot_token (env: TELEGRAM_BOT_TOKEN)")
	}

	endpoints := cfg.AllEndpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required: rpc.endpoint or rpc.endpoints")
	}
	for _, e := range endpoints {
		u, err := url.Parse(e)
		if err != nil {
			return fmt.Errorf("invalid RPC endpoint %q: %w", e, err)
		}
		switch u.Scheme {
		case "http", "https":
		default:
			return fmt.Errorf("invalid RPC endpoint %q: scheme must be http or https", e)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid RPC endpoint %q: missing host", e)
		}
	}

	if cfg.Monitor.PollInterval <= 0 || cfg.Monitor.RetryInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval and monitor.retry_interval must be positive")
	}
	if cfg.Monitor.SignatureLimit < 0 || cfg.Monitor.SignatureLimit > MaxSignaturePage {
		return fmt.Errorf("monitor.signature_limit must be between 0 and %d", MaxSignaturePage)
	}

	// A bounded ledger smaller than one page evicts signatures of that same
	// page and re-notifies them every cycle.
	if n := cfg.Ledger.MaxPerAddress; n != 0 {
		page := cfg.PageSize()
		if n < page {
			return fmt.Errorf("ledger.max_per_address (%d) must be 0 or at least the signature page size (%d)", n, page)
		}
	}
	return nil
}

// MaxSignaturePage is the largest page getSignaturesForAddress returns.
const MaxSignaturePage = 1000

// PageSize is the number of signatures one fetch can return.
func (c *Config) PageSize() int {
	if c.Monitor.SignatureLimit > 0 {
		return c.Monitor.SignatureLimit
	}
	return MaxSignaturePage
}
