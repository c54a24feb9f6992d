package observable

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds settings read from the environment.
type Config struct {
	SiteURL string `env:"OBSERVABLE_SITE_URL" env-default:"https://observablehq.com"`
	APIURL  string `env:"OBSERVABLE_API_URL" env-default:"https://api.observablehq.com"`

	// CookieDomain defaults to "." plus the site host.
	// Path and Secure apply either way.
	CookieDomain string `env:"OBSERVABLE_COOKIE_DOMAIN"`
	CookiePath   string `env:"OBSERVABLE_COOKIE_PATH" env-default:"/"`
	CookieSecure bool   `env:"OBSERVABLE_COOKIE_SECURE" env-default:"true"`

	Login    string `env:"GITHUB_LOGIN"`
	Password string `env:"GITHUB_PASSWORD"`

	// TOTPSecret enables automatic 2FA with an authenticator app secret.
	TOTPSecret string `env:"GITHUB_TOTP_SECRET"`

	MaxAttempts int           `env:"OBSERVABLE_MAX_ATTEMPTS" env-default:"3"`
	Timeout     time.Duration `env:"OBSERVABLE_TIMEOUT" env-default:"30s"`
	Debug       bool          `env:"OBSERVABLE_DEBUG" env-default:"false"`
}

// LoadConfig loads the given .env files into the process environment, if
// they exist, then reads Config from the environment. Variables already set
// in the environment take precedence over .env files.
func LoadConfig(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &cfg, nil
}

// Options converts the config into client options.
func (c *Config) Options() []Option {
	opts := []Option{
		WithSiteURL(c.SiteURL),
		WithAPIURL(c.APIURL),
		WithLogin(c.Login, c.Password),
		WithMaxAttempts(c.MaxAttempts),
		WithTimeout(c.Timeout),
		WithDebug(c.Debug),
	}
	if c.TOTPSecret != "" {
		opts = append(opts, WithTOTPSecret(c.TOTPSecret))
	}
	opts = append(opts, WithAccessInfo(AccessInfo{
		Domain: c.CookieDomain,
		Path:   c.CookiePath,
		Secure: c.CookieSecure,
	}))
	return opts
}
