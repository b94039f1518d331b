package commands

import (
	"errors"
	"fmt"
	"godric-backend/lib/browser"
	"godric-backend/lib/configutil"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/scrapers/goodreads/shelf"
	"log/slog"
	"os"
	"time"
)

type DriverSection struct {
	Browser  string `json:"browser"`
	Address  string `json:"address"`
	// Headless is left nil in the defaults so a false read from a file
	// survives merging, nil means headless.
	Headless *bool  `json:"headless"`
	Protocol string `json:"protocol"`
	Remote   bool   `json:"remote"`
	Path     string `json:"path"`
}

func (d DriverSection) IsHeadless() bool {
	return d.Headless == nil || *d.Headless
}

type SiteSection struct {
	BaseUrl string `json:"base_url"`
	Shelf   string `json:"shelf"`
}

// TimeoutSection holds durations in time.ParseDuration syntax.
type TimeoutSection struct {
	Connect string `json:"connect"`
	Element string `json:"element"`
	Http    string `json:"http"`
}

type PipelineSection struct {
	SettleDelayMs int `json:"settle_delay_ms"`
}

type Config struct {
	Driver    DriverSection   `json:"driver"`
	Site      SiteSection     `json:"site"`
	Timeouts  TimeoutSection  `json:"timeouts"`
	Pipeline  PipelineSection `json:"pipeline"`
	Selectors core.Selectors  `json:"selectors"`
}

func DefaultConfig() Config {
	return Config{
		Driver: DriverSection{
			Browser:  browser.Firefox.String(),
			Protocol: string(browser.ProtocolWebDriver),
		},
		Site: SiteSection{
			BaseUrl: core.DefaultBaseUrl,
			Shelf:   shelf.DefaultShelf,
		},
		Timeouts: TimeoutSection{
			Connect: "30s",
			Element: "10s",
			Http:    "30s",
		},
		Pipeline: PipelineSection{
			SettleDelayMs: 50,
		},
		Selectors: core.DefaultSelectors(),
	}
}

// LoadConfig reads `path` over the defaults, a missing file leaves the
// defaults in place.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfigOver(path, DefaultConfig())
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file, using defaults", "path", path)
		return config, nil
	}
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("timeouts.%s: %w", field, err)
	}
	return d, nil
}

func (c Config) DriverConfig() (browser.DriverConfig, error) {
	kind, err := browser.ParseKind(c.Driver.Browser)
	if err != nil {
		return browser.DriverConfig{}, err
	}
	connect, err := parseDuration("connect", c.Timeouts.Connect)
	if err != nil {
		return browser.DriverConfig{}, err
	}
	element, err := parseDuration("element", c.Timeouts.Element)
	if err != nil {
		return browser.DriverConfig{}, err
	}
	httpTimeout, err := parseDuration("http", c.Timeouts.Http)
	if err != nil {
		return browser.DriverConfig{}, err
	}

	return browser.DriverConfig{
		Browser:        kind,
		Address:        c.Driver.Address,
		Headless:       c.Driver.IsHeadless(),
		Protocol:       browser.Protocol(c.Driver.Protocol),
		Remote:         c.Driver.Remote,
		DriverPath:     c.Driver.Path,
		ConnectTimeout: connect,
		ElementTimeout: element,
		HttpTimeout:    httpTimeout,
	}, nil
}

func (c Config) HttpTimeout() (time.Duration, error) {
	return parseDuration("http", c.Timeouts.Http)
}

func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Pipeline.SettleDelayMs) * time.Millisecond
}
