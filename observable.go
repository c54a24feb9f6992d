// Package observable provides a Go SDK for signing in to Observable
// (observablehq.com) through GitHub.
//
// This SDK provides:
//   - A session client with a shared cookie jar for the Observable API
//   - A login flow that walks GitHub's sign-in pages, including 2FA and
//     device verification
//   - Pluggable credential providers (static or interactive)
//   - Retry with exponential backoff for API reads
//   - Proactive rate limiting
//   - Debug logging
//
// Basic usage with static credentials:
//
//	c, err := observable.New(observable.WithLogin("octocat", os.Getenv("GITHUB_PASSWORD")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ok, err := c.Authorize(ctx)
//
// Interactive, prompting for anything not configured:
//
//	c, err := observable.New(observable.WithInteractive())
//
// With debug logging:
//
//	c, err := observable.New(
//	    observable.WithLogin("octocat", password),
//	    observable.WithDebug(true),
//	)
package observable

import (
	"context"
	"net/http"
	"time"

	"github.com/DrewBradfordXYZ/observable-go/auth"
	"github.com/DrewBradfordXYZ/observable-go/client"
	"github.com/DrewBradfordXYZ/observable-go/core"
	"github.com/DrewBradfordXYZ/observable-go/login"
)

// Re-export types for convenience
type (
	// Session client types
	SessionClient = client.Client
	AccessInfo    = client.AccessInfo
	Response      = client.Response

	// Credential providers
	CredentialProvider = auth.Provider
	StaticProvider     = auth.StaticProvider
	PromptProvider     = auth.PromptProvider
	TOTPProvider       = auth.TOTPProvider

	// Error types
	APIError                  = core.APIError
	InvalidMethodError        = core.InvalidMethodError
	UnsupportedDataError      = core.UnsupportedDataError
	UnexpectedEntryPointError = core.UnexpectedEntryPointError
	TooManyAttemptsError      = core.TooManyAttemptsError
	CapabilityError           = core.CapabilityError
	UnknownLoginStateError    = core.UnknownLoginStateError
)

// Sentinel errors re-exported from core
var (
	ErrInvalidConfiguration  = core.ErrInvalidConfiguration
	ErrInvalidMethod         = core.ErrInvalidMethod
	ErrUnsupportedData       = core.ErrUnsupportedData
	ErrUnexpectedEntryPoint  = core.ErrUnexpectedEntryPoint
	ErrTooManyAttempts       = core.ErrTooManyAttempts
	ErrCapabilityUnsupported = core.ErrCapabilityUnsupported
	ErrUnknownLoginState     = core.ErrUnknownLoginState
	ErrFlowInProgress        = core.ErrFlowInProgress
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	clientOpts []client.Option
	loginOpts  []login.Option

	loginName   string
	loginPass   string
	provider    auth.Provider
	interactive bool
	promptOpts  []auth.PromptOption
	totpSecret  string
	debug       bool
}

// WithSiteURL sets the Observable site origin.
func WithSiteURL(url string) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithSiteURL(url))
	}
}

// WithAPIURL sets the Observable API origin.
func WithAPIURL(url string) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithAPIURL(url))
	}
}

// WithAccessInfo sets the cookie scope.
func WithAccessInfo(info AccessInfo) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithAccessInfo(info))
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithHTTPClient(hc))
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithTimeout(d))
	}
}

// WithRateLimit limits outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithRateLimit(rps, burst))
	}
}

// WithMaxRetries sets how often API reads are retried on 429/5xx.
func WithMaxRetries(n int) Option {
	return func(c *clientConfig) {
		c.clientOpts = append(c.clientOpts, client.WithMaxRetries(n))
	}
}

// WithDebug enables debug logging.
func WithDebug(enabled bool) Option {
	return func(c *clientConfig) {
		c.debug = enabled
	}
}

// WithLogin sets the default GitHub username and password. Either may be
// empty; a password requires a username.
func WithLogin(username, password string) Option {
	return func(c *clientConfig) {
		c.loginName = username
		c.loginPass = password
	}
}

// WithMaxAttempts sets the attempt budget of each login phase (default 3).
func WithMaxAttempts(n int) Option {
	return func(c *clientConfig) {
		c.loginOpts = append(c.loginOpts, login.WithMaxAttempts(n))
	}
}

// WithRedirectPath sets the site path the login should end on (default "/").
func WithRedirectPath(path string) Option {
	return func(c *clientConfig) {
		c.loginOpts = append(c.loginOpts, login.WithRedirectPath(path))
	}
}

// WithEndpoints overrides the GitHub URLs the login flow uses.
func WithEndpoints(e login.Endpoints) Option {
	return func(c *clientConfig) {
		c.loginOpts = append(c.loginOpts, login.WithEndpoints(e))
	}
}

// WithCredentialProvider sets a custom credential provider.
func WithCredentialProvider(p CredentialProvider) Option {
	return func(c *clientConfig) {
		c.provider = p
	}
}

// WithInteractive prompts on the terminal for anything WithLogin did not
// set, and for 2FA and device verification codes.
func WithInteractive(opts ...auth.PromptOption) Option {
	return func(c *clientConfig) {
		c.interactive = true
		c.promptOpts = opts
	}
}

// WithTOTPSecret answers 2FA with codes computed from an authenticator app
// secret instead of asking the credential provider.
func WithTOTPSecret(secret string) Option {
	return func(c *clientConfig) {
		c.totpSecret = secret
	}
}

// Client is a session client with a GitHub login flow attached.
type Client struct {
	session *client.Client
	github  *login.GitHub
}

// New creates a new Observable client.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.loginPass != "" && cfg.loginName == "" {
		return nil, core.NewConfigurationError("default password set without default username")
	}

	clientOpts := append([]client.Option{client.WithDebug(cfg.debug)}, cfg.clientOpts...)
	session, err := client.New(clientOpts...)
	if err != nil {
		return nil, err
	}

	provider := cfg.provider
	if provider == nil && cfg.interactive {
		promptOpts := []auth.PromptOption{auth.WithUsername(cfg.loginName), auth.WithPassword(cfg.loginPass)}
		provider, err = auth.NewPromptProvider(append(promptOpts, cfg.promptOpts...)...)
		if err != nil {
			return nil, err
		}
	}

	if cfg.totpSecret != "" {
		if provider == nil {
			provider = auth.NewStaticProvider(cfg.loginName, cfg.loginPass)
		}
		provider, err = auth.NewTOTPProvider(cfg.totpSecret, provider)
		if err != nil {
			return nil, err
		}
	}

	loginOpts := []login.Option{login.WithCredentials(cfg.loginName, cfg.loginPass)}
	if provider != nil {
		loginOpts = append(loginOpts, login.WithProvider(provider))
	}
	github, err := login.New(session, append(loginOpts, cfg.loginOpts...)...)
	if err != nil {
		return nil, err
	}

	return &Client{session: session, github: github}, nil
}

// Authorize runs the GitHub login flow and reports whether the resulting
// session is authorized. See login.GitHub.Authorize for the failure modes.
func (c *Client) Authorize(ctx context.Context) (bool, error) {
	return c.github.Authorize(ctx)
}

// IsAuthorized reports whether the current session is authorized without
// logging in.
func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	return c.session.IsAuthorized(ctx)
}

// Session returns the underlying session client for API calls.
func (c *Client) Session() *SessionClient {
	return c.session
}

// Login returns the login flow.
func (c *Client) Login() *login.GitHub {
	return c.github
}

// Helper functions re-exported from other packages
var (
	// IsRetryableError returns true if the error should trigger a retry.
	IsRetryableError = core.IsRetryableError

	// ValidUsername reports whether a string is a valid GitHub username.
	ValidUsername = auth.ValidUsername

	// NewStaticProvider creates a non-interactive credential provider.
	NewStaticProvider = auth.NewStaticProvider

	// NewPromptProvider creates an interactive credential provider.
	NewPromptProvider = auth.NewPromptProvider

	// NewTOTPProvider wraps a provider with authenticator app 2FA codes.
	NewTOTPProvider = auth.NewTOTPProvider
)
