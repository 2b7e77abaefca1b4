package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppConfig     *AppConfig
	BrowserConfig *BrowserConfig
}

type AppConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type BrowserConfig struct {
	ExecutablePath string        `envconfig:"BROWSER_EXECUTABLE_PATH" default:""`
	Headless       bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	SlowMo         int           `envconfig:"BROWSER_SLOW_MO" default:"0"`
	Timeout        time.Duration `envconfig:"BROWSER_TIMEOUT" default:"30s"`
	Locale         string        `envconfig:"BROWSER_LOCALE" default:"en-US"`
	TimezoneID     string        `envconfig:"BROWSER_TIMEZONE" default:"America/New_York"`
	UserAgent      string        `envconfig:"BROWSER_USER_AGENT" default:"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"`
	ViewportWidth  int           `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1920"`
	ViewportHeight int           `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"1080"`
	Stealth        bool          `envconfig:"BROWSER_STEALTH" default:"false"`
	MaxPages       int           `envconfig:"BROWSER_MAX_PAGES" default:"8"`
	CacheTTL       time.Duration `envconfig:"SELECTOR_CACHE_TTL" default:"5s"`
	CacheSweep     time.Duration `envconfig:"SELECTOR_CACHE_SWEEP" default:"30s"`
}

// ResolveExecutablePath picks the chromium binary: explicit config wins,
// then the CHROME_PATH environment override, otherwise empty so playwright
// uses its bundled build.
func (c *BrowserConfig) ResolveExecutablePath() string {
	if c.ExecutablePath != "" {
		return c.ExecutablePath
	}

	if path := os.Getenv("CHROME_PATH"); path != "" {
		return path
	}

	return ""
}

func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	return &conf, nil
}
