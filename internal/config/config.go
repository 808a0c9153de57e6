package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nandu-collab/marketpulse-bot/internal/classify"
	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/pkg/logger"
)

const (
	defaultTimezone = "Asia/Kolkata"
	configPathEnv   = "MARKETPULSE_CONFIG"
)

var bootLog = logger.New("config")

var (
	// ErrMissingRequired means a value without which the bot must not start.
	ErrMissingRequired = errors.New("missing required configuration")
	// ErrInvalidValue means a value that is present but malformed.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Jobs          JobsConfig         `yaml:"jobs"`
	Windows       WindowsConfig      `yaml:"windows"`
	Limits        LimitsConfig       `yaml:"limits"`
	Fetch         FetchConfig        `yaml:"fetch"`
	Ledger        LedgerConfig       `yaml:"ledger"`
	Notifications NotificationConfig `yaml:"notifications"`
	Server        ServerConfig       `yaml:"server"`
	Categories    []classify.Rule    `yaml:"categories"`
	Sites         []SiteConfig       `yaml:"sites"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig defines the local timezone every job runs in.
type SchedulerConfig struct {
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// JobsConfig holds fixed daily times ("HH:MM") and the rolling poll interval.
type JobsConfig struct {
	PreMarketAt         string `yaml:"preMarketAt"`
	IPOAt               string `yaml:"ipoAt"`
	PostMarketAt        string `yaml:"postMarketAt"`
	FlowsAt             string `yaml:"flowsAt"`
	NewsIntervalMinutes int    `yaml:"newsIntervalMinutes"`

	PreMarket  gate.Clock `yaml:"-"`
	IPO        gate.Clock `yaml:"-"`
	PostMarket gate.Clock `yaml:"-"`
	Flows      gate.Clock `yaml:"-"`
}

// NewsInterval returns the rolling poll interval.
func (j JobsConfig) NewsInterval() time.Duration {
	return time.Duration(j.NewsIntervalMinutes) * time.Minute
}

// WindowsConfig holds quiet hours, the optional trading window and the
// exchange holiday list.
type WindowsConfig struct {
	QuietStart   string   `yaml:"quietStart"`
	QuietEnd     string   `yaml:"quietEnd"`
	TradingStart string   `yaml:"tradingStart"`
	TradingEnd   string   `yaml:"tradingEnd"`
	Holidays     []string `yaml:"holidays"`

	Quiet    gate.Window   `yaml:"-"`
	Trading  gate.Window   `yaml:"-"`
	Calendar gate.Holidays `yaml:"-"`
}

// LimitsConfig caps how much gets posted.
type LimitsConfig struct {
	NewsPerSlot     int `yaml:"newsPerSlot"`
	NewsPerDay      int `yaml:"newsPerDay"`
	SummaryMaxChars int `yaml:"summaryMaxChars"`
	DigestLines     int `yaml:"digestLines"`
}

// FetchConfig bounds every outbound fetch.
type FetchConfig struct {
	TimeoutSeconds     int    `yaml:"timeoutSeconds"`
	SiteTimeoutSeconds int    `yaml:"siteTimeoutSeconds"`
	UserAgent          string `yaml:"userAgent"`
}

// Timeout is the per-request HTTP timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// SiteTimeout bounds a whole site scan.
func (f FetchConfig) SiteTimeout() time.Duration {
	return time.Duration(f.SiteTimeoutSeconds) * time.Second
}

// LedgerConfig selects and configures the dedup ledger backend.
type LedgerConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Capacity      int    `yaml:"capacity"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	RedisKey      string `yaml:"redisKey"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken          string `yaml:"botToken"`
	ChatID            string `yaml:"chatId"`
	APIBase           string `yaml:"apiBase"`
	TimeoutSeconds    int    `yaml:"timeoutSeconds"`
	MessagesPerMinute int    `yaml:"messagesPerMinute"`
}

// Timeout is the per-send HTTP timeout.
func (t TelegramConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// ServerConfig holds the liveness listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return ":" + strings.TrimPrefix(s.Port, ":")
}

// SiteConfig describes a single site with its scanner strategy. Group ties
// the site to the jobs that consume it ("news", "ipo", "flows").
type SiteConfig struct {
	Name      string            `yaml:"name"`
	Scanner   string            `yaml:"scanner"`
	Group     string            `yaml:"group"`
	Limit     int               `yaml:"limit"`
	Endpoints []EndpointConfig  `yaml:"endpoints"`
	Options   map[string]string `yaml:"options"`
}

// EndpointConfig is one concrete URL to fetch for a site.
type EndpointConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if present), applies environment
// overrides and validates the result. Malformed times and missing delivery
// credentials are errors; other bad values fall back to defaults.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			bootLog.Printf("cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidValue, path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.applyFallbacks()

	if err := cfg.parse(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envString(&c.Notifications.Telegram.BotToken, "TELEGRAM_BOT_TOKEN", "BOT_TOKEN")
	envString(&c.Notifications.Telegram.ChatID, "TELEGRAM_CHAT_ID", "CHANNEL_ID")
	envString(&c.Notifications.Telegram.APIBase, "TELEGRAM_API_BASE")
	envString(&c.Scheduler.Timezone, "TIMEZONE", "TZ_NAME")

	envString(&c.Jobs.PreMarketAt, "PRE_MARKET_AT")
	envString(&c.Jobs.IPOAt, "IPO_AT")
	envString(&c.Jobs.PostMarketAt, "POST_MARKET_AT")
	envString(&c.Jobs.FlowsAt, "FLOWS_AT")
	envInt(&c.Jobs.NewsIntervalMinutes, "NEWS_INTERVAL_MINUTES")

	envInt(&c.Limits.NewsPerSlot, "NEWS_PER_SLOT")
	envInt(&c.Limits.NewsPerDay, "NEWS_PER_DAY")
	envInt(&c.Limits.SummaryMaxChars, "SUMMARY_MAX_CHARS")

	envString(&c.Windows.QuietStart, "QUIET_START")
	envString(&c.Windows.QuietEnd, "QUIET_END")
	envString(&c.Windows.TradingStart, "TRADING_START")
	envString(&c.Windows.TradingEnd, "TRADING_END")
	envList(&c.Windows.Holidays, "HOLIDAYS")

	envString(&c.Ledger.Backend, "LEDGER_BACKEND")
	envString(&c.Ledger.Path, "LEDGER_PATH")
	envInt(&c.Ledger.Capacity, "LEDGER_CAPACITY")
	envString(&c.Ledger.DSN, "DATABASE_DSN", "DATABASE_URL")
	envString(&c.Ledger.RedisAddr, "REDIS_ADDR")
	envString(&c.Ledger.RedisPassword, "REDIS_PASSWORD")

	envString(&c.Server.Port, "PORT")
	envString(&c.Logging.Level, "LOG_LEVEL")
	envString(&c.Logging.Format, "LOG_FORMAT")
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		bootLog.Printf("unknown timezone %s, reverting to %s", tz, defaultTimezone)
		tz = defaultTimezone
		loc = SchedulerConfig{}.Location()
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
}

// applyFallbacks replaces non-positive numbers and empty choices with the
// documented defaults.
func (c *Config) applyFallbacks() {
	def := defaultConfig()

	positive(&c.Jobs.NewsIntervalMinutes, def.Jobs.NewsIntervalMinutes, "news interval")
	positive(&c.Limits.NewsPerSlot, def.Limits.NewsPerSlot, "news per slot")
	positive(&c.Limits.NewsPerDay, def.Limits.NewsPerDay, "news per day")
	positive(&c.Limits.SummaryMaxChars, def.Limits.SummaryMaxChars, "summary max chars")
	positive(&c.Limits.DigestLines, def.Limits.DigestLines, "digest lines")
	positive(&c.Fetch.TimeoutSeconds, def.Fetch.TimeoutSeconds, "fetch timeout")
	positive(&c.Fetch.SiteTimeoutSeconds, def.Fetch.SiteTimeoutSeconds, "site timeout")
	positive(&c.Ledger.Capacity, def.Ledger.Capacity, "ledger capacity")
	positive(&c.Notifications.Telegram.TimeoutSeconds, def.Notifications.Telegram.TimeoutSeconds, "telegram timeout")
	positive(&c.Notifications.Telegram.MessagesPerMinute, def.Notifications.Telegram.MessagesPerMinute, "telegram rate")

	switch strings.ToLower(c.Ledger.Backend) {
	case "file", "postgres", "redis":
		c.Ledger.Backend = strings.ToLower(c.Ledger.Backend)
	default:
		bootLog.Printf("unknown ledger backend %q, reverting to %s", c.Ledger.Backend, def.Ledger.Backend)
		c.Ledger.Backend = def.Ledger.Backend
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = def.Ledger.Path
	}
	if c.Notifications.Telegram.APIBase == "" {
		c.Notifications.Telegram.APIBase = def.Notifications.Telegram.APIBase
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = def.Fetch.UserAgent
	}
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if len(c.Sites) == 0 {
		c.Sites = def.Sites
	}
}

func (c *Config) parse() error {
	var err error
	clocks := []struct {
		name  string
		value string
		dst   *gate.Clock
	}{
		{"preMarketAt", c.Jobs.PreMarketAt, &c.Jobs.PreMarket},
		{"ipoAt", c.Jobs.IPOAt, &c.Jobs.IPO},
		{"postMarketAt", c.Jobs.PostMarketAt, &c.Jobs.PostMarket},
		{"flowsAt", c.Jobs.FlowsAt, &c.Jobs.Flows},
	}
	for _, clk := range clocks {
		if *clk.dst, err = gate.ParseClock(clk.value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, clk.name, err)
		}
	}

	if c.Windows.Quiet, err = gate.ParseWindow(c.Windows.QuietStart, c.Windows.QuietEnd); err != nil {
		return fmt.Errorf("%w: quiet hours: %v", ErrInvalidValue, err)
	}
	if c.Windows.Trading, err = gate.ParseWindow(c.Windows.TradingStart, c.Windows.TradingEnd); err != nil {
		return fmt.Errorf("%w: trading window: %v", ErrInvalidValue, err)
	}
	if c.Windows.Calendar, err = gate.ParseHolidays(c.Windows.Holidays); err != nil {
		return fmt.Errorf("%w: holidays: %v", ErrInvalidValue, err)
	}
	return nil
}

func (c *Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Notifications.Telegram.BotToken) == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if strings.TrimSpace(c.Notifications.Telegram.ChatID) == "" {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	switch c.Ledger.Backend {
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: DATABASE_DSN for postgres ledger", ErrMissingRequired)
		}
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR for redis ledger", ErrMissingRequired)
		}
	}

	for _, site := range c.Sites {
		if site.Name == "" || site.Scanner == "" || site.Group == "" {
			return fmt.Errorf("%w: site needs name, scanner and group: %+v", ErrInvalidValue, site)
		}
	}
	return nil
}

func envString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			return
		}
	}
}

func envList(dst *[]string, key string) {
	if list := splitList(os.Getenv(key)); len(list) > 0 {
		*dst = list
	}
}

func envInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		bootLog.Printf("%s=%q is not a number, keeping %d", key, v, *dst)
		return
	}
	*dst = n
}

func positive(dst *int, fallback int, name string) {
	if *dst <= 0 {
		if *dst < 0 {
			bootLog.Printf("%s %d is not positive, reverting to %d", name, *dst, fallback)
		}
		*dst = fallback
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	tz := SchedulerConfig{}.Location()
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{Timezone: defaultTimezone, location: tz},
		Jobs: JobsConfig{
			PreMarketAt:         "09:00",
			IPOAt:               "10:45",
			PostMarketAt:        "16:00",
			FlowsAt:             "20:00",
			NewsIntervalMinutes: 30,
		},
		Windows: WindowsConfig{
			QuietStart: "22:30",
			QuietEnd:   "07:30",
		},
		Limits: LimitsConfig{
			NewsPerSlot:     2,
			NewsPerDay:      40,
			SummaryMaxChars: 350,
			DigestLines:     6,
		},
		Fetch: FetchConfig{
			TimeoutSeconds:     10,
			SiteTimeoutSeconds: 45,
			UserAgent:          "Mozilla/5.0 (compatible; MarketPulse/1.0)",
		},
		Ledger: LedgerConfig{
			Backend:  "file",
			Path:     "seen_links.json",
			Capacity: 500,
			RedisKey: "marketpulse:ledger",
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{
				APIBase:           "https://api.telegram.org",
				TimeoutSeconds:    10,
				MessagesPerMinute: 20,
			},
		},
		Server: ServerConfig{Port: "10000"},
		Sites:  defaultSites(),
	}
}

func defaultSites() []SiteConfig {
	return []SiteConfig{
		{
			Name:    "moneycontrol",
			Scanner: "rss",
			Group:   "news",
			Limit:   15,
			Endpoints: []EndpointConfig{
				{Name: "marketreports", URL: "https://www.moneycontrol.com/rss/marketreports.xml"},
				{Name: "marketplus", URL: "https://www.moneycontrol.com/rss/marketplus.xml"},
				{Name: "business", URL: "https://www.moneycontrol.com/rss/business.xml"},
			},
		},
		{
			Name:    "economictimes",
			Scanner: "rss",
			Group:   "news",
			Limit:   15,
			Endpoints: []EndpointConfig{
				{Name: "markets", URL: "https://economictimes.indiatimes.com/markets/rssfeeds/1977021501.cms"},
				{Name: "industry", URL: "https://economictimes.indiatimes.com/industry/rssfeeds/13352306.cms"},
			},
		},
		{
			Name:    "livemint",
			Scanner: "rss",
			Group:   "news",
			Limit:   15,
			Endpoints: []EndpointConfig{
				{Name: "markets", URL: "https://www.livemint.com/rss/markets"},
				{Name: "companies", URL: "https://www.livemint.com/rss/companies"},
			},
		},
		{
			Name:    "chittorgarh",
			Scanner: "rss",
			Group:   "ipo",
			Limit:   12,
			Endpoints: []EndpointConfig{
				{Name: "ipo-news", URL: "https://www.chittorgarh.com/ipo/ipo_news_rss.xml"},
			},
			Options: map[string]string{"max_age_days": "3", "category": "ipo"},
		},
		{
			Name:    "nse",
			Scanner: "nse-flows",
			Group:   "flows",
			Endpoints: []EndpointConfig{
				{Name: "fiidii", URL: "https://www.nseindia.com/api/fiidiiTrade?type=equity"},
				{Name: "fiidii-react", URL: "https://www.nseindia.com/api/fiidiiTradeReact?type=equity"},
			},
			Options: map[string]string{"warmup": "https://www.nseindia.com", "referer": "https://www.nseindia.com/"},
		},
	}
}
