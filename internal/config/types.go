package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the process configuration file (JSON or YAML). Operator-set
// identifiers (announce chat, access role, mentions) are NOT here; those
// live in the persisted state document and are changed via bot commands.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Calendar  CalendarConfig  `json:"calendar"`
	Reminders RemindersConfig `json:"reminders"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	OwnerID int64  `json:"owner_id,omitempty"`

	// PollTimeout is the long-poll timeout as a Go duration string.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type CalendarConfig struct {
	FeedURL string `json:"feed_url"`

	// PollInterval is how often milestones are evaluated. Default 10m.
	PollInterval string `json:"poll_interval,omitempty"`

	// LookbackDays/HorizonDays bound recurrence expansion around now.
	LookbackDays int `json:"lookback_days,omitempty"`
	HorizonDays  int `json:"horizon_days,omitempty"`

	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type RemindersConfig struct {
	// SweepInterval is how often due reminders are delivered. Default 30s.
	SweepInterval string `json:"sweep_interval,omitempty"`
}

type StorageConfig struct {
	// Driver selects the persistence backend: "file" (default) or "sqlite"
	// (requires the sqlite build tag).
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is the sqlite busy timeout as a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string             `json:"level,omitempty"`
	Console *ConsoleSinkConfig `json:"console,omitempty"`
	File    *FileSinkConfig    `json:"file,omitempty"`
	Chat    *ChatSinkConfig    `json:"chat,omitempty"`
}

type ConsoleSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level,omitempty"`
	Color   bool   `json:"color,omitempty"`
}

type FileSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ChatSinkConfig forwards warn+ log lines to a chat through the gateway.
type ChatSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

const (
	defaultPollTimeout   = 10 * time.Second
	defaultPollInterval  = 10 * time.Minute
	defaultFetchTimeout  = 20 * time.Second
	defaultSweepInterval = 30 * time.Second
	defaultBusyTimeout   = 5 * time.Second
	defaultLookbackDays  = 7
	defaultHorizonDays   = 90
	defaultStoragePath   = "heraldbot.state.json"
)

// Validate checks everything Load/Watch must reject before committing.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	feed := strings.TrimSpace(c.Calendar.FeedURL)
	if feed == "" {
		return errors.New("calendar.feed_url is required")
	}
	if parsed, err := url.Parse(feed); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("calendar.feed_url must be an http(s) URL")
	}
	if c.Calendar.LookbackDays < 0 {
		return errors.New("calendar.lookback_days must be >= 0")
	}
	if c.Calendar.HorizonDays < 0 {
		return errors.New("calendar.horizon_days must be >= 0")
	}
	durs := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"calendar.poll_interval", c.Calendar.PollInterval},
		{"calendar.fetch_timeout", c.Calendar.FetchTimeout},
		{"reminders.sweep_interval", c.Reminders.SweepInterval},
	}
	if c.Storage != nil {
		durs = append(durs, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver must be \"file\" or \"sqlite\", got %q", c.Storage.Driver)
		}
	}
	for _, d := range durs {
		if _, err := parseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}

// Effective value accessors. Zero/omitted fields fall back to defaults so
// callers never re-implement the fallback rules.

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, defaultPollTimeout)
}

func (c *Config) PollInterval() time.Duration {
	return durationOr(c.Calendar.PollInterval, defaultPollInterval)
}

func (c *Config) FetchTimeout() time.Duration {
	return durationOr(c.Calendar.FetchTimeout, defaultFetchTimeout)
}

func (c *Config) SweepInterval() time.Duration {
	return durationOr(c.Reminders.SweepInterval, defaultSweepInterval)
}

func (c *Config) LookbackDays() int {
	if c.Calendar.LookbackDays <= 0 {
		return defaultLookbackDays
	}
	return c.Calendar.LookbackDays
}

func (c *Config) HorizonDays() int {
	if c.Calendar.HorizonDays <= 0 {
		return defaultHorizonDays
	}
	return c.Calendar.HorizonDays
}

func (c *Config) StorageDriver() string {
	if c.Storage == nil {
		return "file"
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return "file"
	}
	return d
}

func (c *Config) StoragePath() string {
	if c.Storage == nil || strings.TrimSpace(c.Storage.Path) == "" {
		return defaultStoragePath
	}
	return c.Storage.Path
}

func (c *Config) StorageBusyTimeout() time.Duration {
	if c.Storage == nil {
		return defaultBusyTimeout
	}
	return durationOr(c.Storage.BusyTimeout, defaultBusyTimeout)
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := parseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
