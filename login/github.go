// Package login drives the GitHub sign-in flow that Observable uses.
//
// Observable has no password API; a session is created by walking GitHub's
// HTML sign-in pages the way a browser does:
//
//	POST {api}/login           -> redirected to github.com/login
//	POST github.com/session    -> credentials
//	POST (two-factor page URL) -> 2FA token, if enabled
//	POST .../verified-device   -> emailed code, for unrecognized devices
//	                           -> redirected back to {site}/
//
// Each page's form is extracted and re-submitted with the step's fields on
// top, so GitHub's hidden anti-forgery fields survive. The page reached
// after each step is identified by its URL alone.
//
// Basic usage:
//
//	c, _ := client.New()
//	gh, err := login.New(c, login.WithCredentials("octocat", password))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ok, err := gh.Authorize(ctx)
package login

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/DrewBradfordXYZ/observable-go/auth"
	"github.com/DrewBradfordXYZ/observable-go/client"
	"github.com/DrewBradfordXYZ/observable-go/core"
)

// DefaultMaxAttempts is the default per-phase attempt budget.
const DefaultMaxAttempts = 3

// Form field names GitHub expects.
const (
	fieldLogin    = "login"
	fieldPassword = "password"
	fieldOTP      = "otp"
)

// GitHub runs the login flow against one session client.
type GitHub struct {
	client       *client.Client
	provider     auth.Provider
	endpoints    *Endpoints
	redirectPath string
	loginName    string
	loginPass    string
	maxAttempts  int
	logger       *core.Logger
}

// Option configures a GitHub login flow.
type Option func(*GitHub)

// WithCredentials sets the default username and password. The username is
// also sent as a hint when the flow starts. A password requires a username.
func WithCredentials(username, password string) Option {
	return func(g *GitHub) {
		g.loginName = username
		g.loginPass = password
	}
}

// WithMaxAttempts sets the attempt budget of each phase (default 3).
// Values below 1 are raised to 1.
func WithMaxAttempts(n int) Option {
	return func(g *GitHub) {
		g.maxAttempts = max(1, n)
	}
}

// WithProvider sets where credentials and codes come from. The default is
// an auth.StaticProvider with the WithCredentials values.
func WithProvider(p auth.Provider) Option {
	return func(g *GitHub) {
		g.provider = p
	}
}

// WithEndpoints overrides the provider URLs.
func WithEndpoints(e Endpoints) Option {
	return func(g *GitHub) {
		g.endpoints = &e
	}
}

// WithRedirectPath sets the site path the flow should end on (default "/").
func WithRedirectPath(path string) Option {
	return func(g *GitHub) {
		g.redirectPath = CleanRedirectPath(path)
	}
}

// WithLogger sets the logger (default: the session client's logger).
func WithLogger(l *core.Logger) Option {
	return func(g *GitHub) {
		g.logger = l
	}
}

// New creates a login flow for c.
func New(c *client.Client, opts ...Option) (*GitHub, error) {
	if c == nil {
		return nil, core.NewConfigurationError("session client is required")
	}

	g := &GitHub{
		client:       c,
		redirectPath: "/",
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.loginPass != "" && g.loginName == "" {
		return nil, core.NewConfigurationError("default password set without default username")
	}
	if g.provider == nil {
		g.provider = auth.NewStaticProvider(g.loginName, g.loginPass)
	}
	if g.endpoints == nil {
		e := DefaultEndpoints(c.SiteURL(), g.redirectPath)
		g.endpoints = &e
	}
	if g.logger == nil {
		g.logger = c.Logger()
	}
	return g, nil
}

// Endpoints returns the URLs the flow classifies pages by.
func (g *GitHub) Endpoints() Endpoints { return *g.endpoints }

// MaxAttempts returns the per-phase attempt budget.
func (g *GitHub) MaxAttempts() int { return g.maxAttempts }

// phase is one page of the flow that may need several submissions.
type phase struct {
	state State
	name  string

	// fields asks the provider for the page's input.
	fields func(ctx context.Context) (map[string]string, error)

	// target is where the page's form is posted.
	target func(step *client.Response) string
}

func (g *GitHub) phases() []phase {
	return []phase{
		{
			state: StateLogin,
			name:  "credentials",
			fields: func(ctx context.Context) (map[string]string, error) {
				name, pass, err := g.provider.Credentials(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{fieldLogin: name, fieldPassword: pass}, nil
			},
			target: func(*client.Response) string { return g.endpoints.Session },
		},
		{
			state: StateTwoFactor,
			name:  "2FA token",
			fields: func(ctx context.Context) (map[string]string, error) {
				otp, err := g.provider.TwoFactorToken(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{fieldOTP: otp}, nil
			},
			target: func(step *client.Response) string { return step.EffectiveURL() },
		},
		{
			state: StateDeviceVerification,
			name:  "device verification code",
			fields: func(ctx context.Context) (map[string]string, error) {
				otp, err := g.provider.DeviceVerificationCode(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{fieldOTP: otp}, nil
			},
			target: func(*client.Response) string { return g.endpoints.DeviceVerification },
		},
	}
}

// Authorize signs in and reports whether the resulting session is
// authorized.
//
// It fails with core.UnexpectedEntryPointError if the flow does not start
// on the sign-in page, core.TooManyAttemptsError when a phase used up its
// budget, and core.UnknownLoginStateError when it ends anywhere but the
// site's redirect path. Provider and transport errors are returned
// unchanged. Nothing is retried; call Authorize again to start over.
//
// Only one Authorize may run per session client; a concurrent call fails
// with core.ErrFlowInProgress.
func (g *GitHub) Authorize(ctx context.Context) (bool, error) {
	release, err := g.client.BeginFlow()
	if err != nil {
		return false, err
	}
	defer release()

	log := g.logger.With("flow", uuid.NewString())

	step, err := g.start(ctx)
	if err != nil {
		return false, err
	}
	if state := g.endpoints.Classify(step.EffectiveURL()); state != StateLogin {
		log.Warn("login started on %s (%s)", redact(step.EffectiveURL()), state)
		return false, &core.UnexpectedEntryPointError{URL: step.EffectiveURL()}
	}

	for _, ph := range g.phases() {
		step, err = g.run(ctx, log, ph, step)
		if err != nil {
			return false, err
		}
	}

	if state := g.endpoints.Classify(step.EffectiveURL()); state != StateDone {
		return false, &core.UnknownLoginStateError{URL: step.EffectiveURL()}
	}
	log.Info("login flow complete")
	return g.client.IsAuthorized(ctx)
}

// start asks the site to redirect to the provider's sign-in page.
func (g *GitHub) start(ctx context.Context) (*client.Response, error) {
	if err := g.client.EnsureToken(false); err != nil {
		return nil, err
	}
	body := struct {
		Token string `json:"token"`
		Path  string `json:"path"`
		Login string `json:"login,omitempty"`
	}{
		Token: g.client.Token(),
		Path:  g.redirectPath,
		Login: g.loginName,
	}
	return g.client.Post(ctx, "/login", body)
}

// run submits ph's form for as long as the flow stays on ph's page.
func (g *GitHub) run(ctx context.Context, log *core.Logger, ph phase, step *client.Response) (*client.Response, error) {
	attempts := g.maxAttempts
	for g.endpoints.Classify(step.EffectiveURL()) == ph.state {
		if attempts <= 0 {
			return nil, &core.TooManyAttemptsError{Phase: ph.name, Attempts: g.maxAttempts}
		}
		attempts--

		fields, err := ph.fields(ctx)
		if err != nil {
			return nil, err
		}
		extracted, err := ExtractForm(step.Body)
		if err != nil {
			return nil, err
		}

		target := ph.target(step)
		log.Debug("submitting %s (attempt %d/%d) to %s", ph.name, g.maxAttempts-attempts, g.maxAttempts, redact(target))
		step, err = g.client.Submit(ctx, target, MergeForm(extracted, fields))
		if err != nil {
			return nil, err
		}
	}
	return step, nil
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("%q", rawURL)
	}
	u.RawQuery = ""
	return u.Redacted()
}
