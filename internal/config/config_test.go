package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandu-collab/marketpulse-bot/internal/gate"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(configPathEnv, "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "@marketpulse")
	for _, key := range []string{"TIMEZONE", "TZ_NAME", "PORT", "LEDGER_BACKEND", "HOLIDAYS", "QUIET_START", "QUIET_END", "TRADING_START", "TRADING_END"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Asia/Kolkata", cfg.Scheduler.Location().String())
	assert.Equal(t, gate.MustClock("09:00"), cfg.Jobs.PreMarket)
	assert.Equal(t, gate.MustClock("10:45"), cfg.Jobs.IPO)
	assert.Equal(t, gate.MustClock("16:00"), cfg.Jobs.PostMarket)
	assert.Equal(t, gate.MustClock("20:00"), cfg.Jobs.Flows)
	assert.Equal(t, 30, cfg.Jobs.NewsIntervalMinutes)
	assert.Equal(t, 2, cfg.Limits.NewsPerSlot)
	assert.Equal(t, 350, cfg.Limits.SummaryMaxChars)
	assert.True(t, cfg.Windows.Quiet.Enabled())
	assert.Equal(t, "22:30-07:30", cfg.Windows.Quiet.String())
	assert.False(t, cfg.Windows.Trading.Enabled())
	assert.Equal(t, "file", cfg.Ledger.Backend)
	assert.Equal(t, ":10000", cfg.Server.Addr())
	assert.NotEmpty(t, cfg.Sites)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("CHANNEL_ID", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequired))
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("BOT_TOKEN", "legacy-token")
	t.Setenv("CHANNEL_ID", "-100123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", cfg.Notifications.Telegram.BotToken)
	assert.Equal(t, "-100123", cfg.Notifications.Telegram.ChatID)
}

func TestLoadMalformedTimeFailsFast(t *testing.T) {
	setRequired(t)
	t.Setenv("QUIET_START", "10pm")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestLoadMalformedHolidayFailsFast(t *testing.T) {
	setRequired(t)
	t.Setenv("HOLIDAYS", "2025-10-21, 21/10/2025")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestLoadBadNumbersFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("NEWS_PER_SLOT", "two")
	t.Setenv("NEWS_PER_DAY", "-5")
	t.Setenv("SUMMARY_MAX_CHARS", "200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Limits.NewsPerSlot)
	assert.Equal(t, 40, cfg.Limits.NewsPerDay)
	assert.Equal(t, 200, cfg.Limits.SummaryMaxChars)
}

func TestLoadUnknownTimezoneFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", cfg.Scheduler.Timezone)
}

func TestLoadYAMLFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "marketpulse.yaml")
	raw := `
jobs:
  flowsAt: "19:15"
  newsIntervalMinutes: 15
windows:
  tradingStart: "09:15"
  tradingEnd: "15:30"
  holidays: ["2025-10-21"]
ledger:
  capacity: 50
categories:
  - category: market
    keywords: [gold]
sites:
  - name: example
    scanner: html
    group: ipo
    endpoints:
      - name: calendar
        url: https://example.com/ipo
    options:
      row: "table tr"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	t.Setenv(configPathEnv, path)
	t.Setenv("FLOWS_AT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, gate.MustClock("19:15"), cfg.Jobs.Flows)
	assert.Equal(t, gate.MustClock("09:00"), cfg.Jobs.PreMarket)
	assert.Equal(t, 15, cfg.Jobs.NewsIntervalMinutes)
	assert.Equal(t, "09:15-15:30", cfg.Windows.Trading.String())
	assert.Len(t, cfg.Windows.Calendar, 1)
	assert.Equal(t, 50, cfg.Ledger.Capacity)
	require.Len(t, cfg.Categories, 1)
	assert.Equal(t, []string{"gold"}, cfg.Categories[0].Keywords)
	require.Len(t, cfg.Sites, 1)
	assert.Equal(t, "table tr", cfg.Sites[0].Options["row"])
}

func TestLoadBlankHolidaysKeepsFileCalendar(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("windows:\n  holidays: [\"2025-10-21\", \"2025-11-05\"]\n"), 0o644))
	t.Setenv(configPathEnv, path)
	t.Setenv("HOLIDAYS", "  ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Windows.Calendar, 2)

	diwali := time.Date(2025, time.October, 21, 10, 0, 0, 0, cfg.Scheduler.Location())
	assert.False(t, gate.IsTradingDay(diwali, cfg.Windows.Calendar))
}

func TestLoadHolidaysEnvReplacesFileCalendar(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("windows:\n  holidays: [\"2025-10-21\"]\n"), 0o644))
	t.Setenv(configPathEnv, path)
	t.Setenv("HOLIDAYS", "2025-12-25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-12-25"}, cfg.Windows.Holidays)
	assert.Len(t, cfg.Windows.Calendar, 1)
}

func TestDefaultNSEEndpointsOrder(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	var urls []string
	for _, site := range cfg.Sites {
		if site.Scanner != "nse-flows" {
			continue
		}
		for _, ep := range site.Endpoints {
			urls = append(urls, ep.URL)
		}
	}
	assert.Equal(t, []string{
		"https://www.nseindia.com/api/fiidiiTrade?type=equity",
		"https://www.nseindia.com/api/fiidiiTradeReact?type=equity",
	}, urls)
}

func TestLoadRejectsIncompleteSite(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites:\n  - name: nogroup\n    scanner: rss\n"), 0o644))
	t.Setenv(configPathEnv, path)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestLoadPostgresNeedsDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequired))
}
