package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrewBradfordXYZ/observable-go/auth"
	"github.com/DrewBradfordXYZ/observable-go/client"
	"github.com/DrewBradfordXYZ/observable-go/core"
	"github.com/DrewBradfordXYZ/observable-go/internal/testserver"
)

const (
	siteURL   = "http://observable.test"
	apiURL    = "http://api.observable.test"
	githubURL = "http://github.test"
)

// fakeGitHub plays Observable's API and GitHub's sign-in pages.
type fakeGitHub struct {
	t *testing.T

	password   string
	otp        string // empty disables 2FA
	deviceCode string // empty skips device verification

	// entryURL overrides where POST /login redirects to.
	entryURL string
	// finalURL overrides where a completed flow redirects to.
	finalURL string
	// noSession completes the flow without setting the session cookie.
	noSession bool
	// sessionStatus, when set, is returned by POST /session.
	sessionStatus int

	mu             sync.Mutex
	startBody      map[string]string
	startToken     string
	sessionForms   []url.Values
	twoFactorForms []url.Values
	twoFactorQuery []string
	deviceForms    []url.Values
}

func (f *fakeGitHub) handlers() map[string]http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.startBody = body
		if ck, err := r.Cookie(client.TokenCookie); err == nil {
			f.startToken = ck.Value
		}
		f.mu.Unlock()

		target := f.entryURL
		if target == "" {
			target = githubURL + "/login?return_to=%2Flogin%2Foauth%2Fauthorize"
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
	api.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if !f.noSession {
			http.SetCookie(w, &http.Cookie{Name: client.SessionCookie, Value: "sess-42", Domain: ".observable.test", Path: "/"})
		}
		target := f.finalURL
		if target == "" {
			target = siteURL + "/"
		}
		http.Redirect(w, r, target, http.StatusFound)
	})
	api.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(client.SessionCookie); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"login":"octocat"}`))
	})

	gh := http.NewServeMux()
	gh.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form action="/session" method="post">
			<input type="hidden" name="authenticity_token" value="tok-login">
			<input type="text" name="login" value="">
			<input type="password" name="password">
			<input type="hidden" name="return_to" value="/login/oauth/authorize">
			<input type="submit" name="commit" value="Sign in">
		</form>`)
	})
	gh.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(f.t, r.ParseForm())
		f.mu.Lock()
		f.sessionForms = append(f.sessionForms, r.PostForm)
		f.mu.Unlock()

		if f.sessionStatus != 0 {
			w.WriteHeader(f.sessionStatus)
			return
		}
		if r.PostForm.Get("authenticity_token") != "tok-login" ||
			r.PostForm.Get("login") != "octocat" || r.PostForm.Get("password") != f.password {
			http.Redirect(w, r, "/login?error=incorrect", http.StatusSeeOther)
			return
		}
		f.redirectAfterCredentials(w, r)
	})
	gh.HandleFunc("GET /sessions/two-factor", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form method="post">
			<input type="hidden" name="authenticity_token" value="tok-2fa">
			<input type="text" name="otp" value="">
		</form>`)
	})
	gh.HandleFunc("POST /sessions/two-factor", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(f.t, r.ParseForm())
		f.mu.Lock()
		f.twoFactorForms = append(f.twoFactorForms, r.PostForm)
		f.twoFactorQuery = append(f.twoFactorQuery, r.URL.RawQuery)
		f.mu.Unlock()

		if r.PostForm.Get("authenticity_token") != "tok-2fa" || r.PostForm.Get("otp") != f.otp {
			http.Redirect(w, r, "/sessions/two-factor?"+r.URL.RawQuery, http.StatusSeeOther)
			return
		}
		f.redirectAfterTwoFactor(w, r)
	})
	gh.HandleFunc("GET /sessions/verified-device", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form action="/sessions/verified-device" method="post">
			<input type="hidden" name="authenticity_token" value="tok-device">
			<input type="text" name="otp" value="">
		</form>`)
	})
	gh.HandleFunc("POST /sessions/verified-device", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(f.t, r.ParseForm())
		f.mu.Lock()
		f.deviceForms = append(f.deviceForms, r.PostForm)
		f.mu.Unlock()

		if r.PostForm.Get("authenticity_token") != "tok-device" || r.PostForm.Get("otp") != f.deviceCode {
			http.Redirect(w, r, "/sessions/verified-device", http.StatusSeeOther)
			return
		}
		f.finish(w, r)
	})

	site := http.NewServeMux()
	site.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Observable</body></html>`)
	})

	return map[string]http.Handler{
		"api.observable.test": api,
		"github.test":         gh,
		"observable.test":     site,
	}
}

func (f *fakeGitHub) redirectAfterCredentials(w http.ResponseWriter, r *http.Request) {
	if f.otp != "" {
		http.Redirect(w, r, "/sessions/two-factor?return_to=%2Flogin%2Foauth%2Fauthorize", http.StatusSeeOther)
		return
	}
	f.redirectAfterTwoFactor(w, r)
}

func (f *fakeGitHub) redirectAfterTwoFactor(w http.ResponseWriter, r *http.Request) {
	if f.deviceCode != "" {
		http.Redirect(w, r, "/sessions/verified-device", http.StatusSeeOther)
		return
	}
	f.finish(w, r)
}

func (f *fakeGitHub) finish(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, apiURL+"/callback", http.StatusFound)
}

// scriptedProvider answers from fixed lists and counts calls.
type scriptedProvider struct {
	passwords   []string
	tokens      []string
	deviceCodes []string

	credentialCalls int
	tokenCalls      int
	deviceCalls     int
}

func next(values []string, i int) string {
	if len(values) == 0 {
		return ""
	}
	if i >= len(values) {
		return values[len(values)-1]
	}
	return values[i]
}

func (p *scriptedProvider) Credentials(ctx context.Context) (string, string, error) {
	p.credentialCalls++
	return "octocat", next(p.passwords, p.credentialCalls-1), nil
}

func (p *scriptedProvider) TwoFactorToken(ctx context.Context) (string, error) {
	p.tokenCalls++
	return next(p.tokens, p.tokenCalls-1), nil
}

func (p *scriptedProvider) DeviceVerificationCode(ctx context.Context) (string, error) {
	p.deviceCalls++
	return next(p.deviceCodes, p.deviceCalls-1), nil
}

func newFlow(t *testing.T, f *fakeGitHub, opts ...Option) (*GitHub, *client.Client) {
	t.Helper()
	f.t = t
	srv := testserver.New(t, f.handlers())

	c, err := client.New(
		client.WithSiteURL(siteURL),
		client.WithAPIURL(apiURL),
		client.WithAccessInfo(client.AccessInfo{Domain: ".observable.test", Path: "/"}),
		client.WithHTTPClient(srv.Client()),
		client.WithLogger(core.NopLogger()),
		client.WithRateLimit(0, 0),
	)
	require.NoError(t, err)

	base := []Option{WithEndpoints(GitHubAt(githubURL, siteURL, "/"))}
	g, err := New(c, append(base, opts...)...)
	require.NoError(t, err)
	return g, c
}

func TestNew_Validation(t *testing.T) {
	c, err := client.New()
	require.NoError(t, err)

	_, err = New(c, WithCredentials("", "secret"))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = New(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	g, err := New(c)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, g.MaxAttempts())
	assert.Equal(t, DefaultEndpoints(client.DefaultSiteURL, "/"), g.Endpoints())

	for _, n := range []int{0, -5} {
		g, err := New(c, WithMaxAttempts(n))
		require.NoError(t, err)
		assert.Equal(t, 1, g.MaxAttempts(), "budget %d is coerced to 1", n)
	}
}

func TestNew_RedirectPathWithoutSlash(t *testing.T) {
	c, err := client.New()
	require.NoError(t, err)

	g, err := New(c, WithRedirectPath("@octocat"))
	require.NoError(t, err)
	assert.Equal(t, "https://observablehq.com/@octocat", g.Endpoints().Done)
	assert.Equal(t, "/@octocat", g.redirectPath)
}

func TestAuthorize_CredentialsOnly(t *testing.T) {
	f := &fakeGitHub{password: "hunter2"}
	g, c := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sess-42", c.Session())

	assert.Equal(t, map[string]string{"token": c.Token(), "path": "/", "login": "octocat"}, f.startBody)
	assert.Equal(t, c.Token(), f.startToken, "token cookie accompanies the start request")

	require.Len(t, f.sessionForms, 1)
	form := f.sessionForms[0]
	assert.Equal(t, "tok-login", form.Get("authenticity_token"))
	assert.Equal(t, "/login/oauth/authorize", form.Get("return_to"))
	assert.Equal(t, "octocat", form.Get("login"))
	assert.Equal(t, "hunter2", form.Get("password"))
	assert.NotContains(t, form, "commit")
	assert.Empty(t, f.twoFactorForms)
	assert.Empty(t, f.deviceForms)
}

func TestAuthorize_NoLoginHintWithoutUsername(t *testing.T) {
	f := &fakeGitHub{password: "hunter2"}
	g, _ := newFlow(t, f, WithProvider(&scriptedProvider{passwords: []string{"hunter2"}}))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, f.startBody, "login")
}

func TestAuthorize_TooManyCredentialAttempts(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("budget %d", n), func(t *testing.T) {
			f := &fakeGitHub{password: "right"}
			p := &scriptedProvider{passwords: []string{"wrong"}}
			g, _ := newFlow(t, f, WithProvider(p), WithMaxAttempts(n))

			ok, err := g.Authorize(context.Background())
			assert.False(t, ok)

			var tooMany *core.TooManyAttemptsError
			require.ErrorAs(t, err, &tooMany)
			assert.Equal(t, "credentials", tooMany.Phase)
			assert.Equal(t, n, tooMany.Attempts)
			assert.Equal(t, n, p.credentialCalls)
			assert.Len(t, f.sessionForms, n)
		})
	}
}

func TestAuthorize_EmptyStaticCredentialsExhaustBudget(t *testing.T) {
	f := &fakeGitHub{password: "right"}
	g, _ := newFlow(t, f)

	_, err := g.Authorize(context.Background())
	assert.ErrorIs(t, err, core.ErrTooManyAttempts)
	assert.Len(t, f.sessionForms, DefaultMaxAttempts)
}

func TestAuthorize_TwoFactorAcceptedOnSecondAttempt(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", otp: "123456"}
	p := &scriptedProvider{passwords: []string{"hunter2"}, tokens: []string{"000000", "123456"}}
	g, _ := newFlow(t, f, WithProvider(p))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, p.credentialCalls)
	assert.Equal(t, 2, p.tokenCalls)
	require.Len(t, f.twoFactorForms, 2)
	assert.Equal(t, "000000", f.twoFactorForms[0].Get("otp"))
	assert.Equal(t, "123456", f.twoFactorForms[1].Get("otp"))
	assert.Equal(t, "tok-2fa", f.twoFactorForms[1].Get("authenticity_token"))

	for _, q := range f.twoFactorQuery {
		assert.Equal(t, "return_to=%2Flogin%2Foauth%2Fauthorize", q, "form is posted back to the page's own URL")
	}
}

func TestAuthorize_BudgetsAreIndependentPerPhase(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", otp: "123456"}
	p := &scriptedProvider{
		passwords: []string{"bad", "bad", "hunter2"},
		tokens:    []string{"1", "2", "123456"},
	}
	g, _ := newFlow(t, f, WithProvider(p), WithMaxAttempts(3))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, p.credentialCalls)
	assert.Equal(t, 3, p.tokenCalls)
}

func TestAuthorize_TooManyTwoFactorAttempts(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", otp: "123456"}
	p := &scriptedProvider{passwords: []string{"hunter2"}, tokens: []string{"999999"}}
	g, _ := newFlow(t, f, WithProvider(p), WithMaxAttempts(2))

	_, err := g.Authorize(context.Background())

	var tooMany *core.TooManyAttemptsError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, "2FA token", tooMany.Phase)
	assert.Equal(t, 2, p.tokenCalls)
	assert.Len(t, f.twoFactorForms, 2)
}

func TestAuthorize_StaticProviderCannotDoTwoFactor(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", otp: "123456"}
	g, _ := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	_, err := g.Authorize(context.Background())
	assert.ErrorIs(t, err, core.ErrCapabilityUnsupported)
	assert.Empty(t, f.twoFactorForms)
}

func TestAuthorize_DeviceVerification(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", otp: "123456", deviceCode: "abcde-12345"}
	p := &scriptedProvider{
		passwords:   []string{"hunter2"},
		tokens:      []string{"123456"},
		deviceCodes: []string{"nope", "abcde-12345"},
	}
	g, _ := newFlow(t, f, WithProvider(p))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, p.deviceCalls)
	require.Len(t, f.deviceForms, 2)
	assert.Equal(t, "tok-device", f.deviceForms[1].Get("authenticity_token"))
	assert.Equal(t, "abcde-12345", f.deviceForms[1].Get("otp"))
}

func TestAuthorize_DeviceVerificationWithoutTwoFactor(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", deviceCode: "123456"}
	p := &scriptedProvider{passwords: []string{"hunter2"}, deviceCodes: []string{"123456"}}
	g, _ := newFlow(t, f, WithProvider(p))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, p.tokenCalls)
	assert.Equal(t, 1, p.deviceCalls)
}

func TestAuthorize_UnknownFinalState(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", finalURL: siteURL + "/elsewhere?x=1"}
	g, _ := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	ok, err := g.Authorize(context.Background())
	assert.False(t, ok)

	var unknown *core.UnknownLoginStateError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, siteURL+"/elsewhere?x=1", unknown.URL)
}

func TestAuthorize_UnexpectedEntryPoint(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", entryURL: siteURL + "/maintenance"}
	p := &scriptedProvider{}
	g, _ := newFlow(t, f, WithProvider(p))

	_, err := g.Authorize(context.Background())

	var entry *core.UnexpectedEntryPointError
	require.ErrorAs(t, err, &entry)
	assert.Equal(t, siteURL+"/maintenance", entry.URL)
	assert.Zero(t, p.credentialCalls)
}

func TestAuthorize_NotAuthorizedWithoutSession(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", noSession: true}
	g, _ := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorize_PropagatesHTTPError(t *testing.T) {
	f := &fakeGitHub{password: "hunter2", sessionStatus: http.StatusUnprocessableEntity}
	g, _ := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	_, err := g.Authorize(context.Background())

	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

type failingProvider struct{ err error }

func (p failingProvider) Credentials(context.Context) (string, string, error) { return "", "", p.err }
func (p failingProvider) TwoFactorToken(context.Context) (string, error)      { return "", p.err }
func (p failingProvider) DeviceVerificationCode(context.Context) (string, error) {
	return "", p.err
}

func TestAuthorize_PropagatesProviderError(t *testing.T) {
	boom := errors.New("prompt closed")
	f := &fakeGitHub{password: "hunter2"}
	g, _ := newFlow(t, f, WithProvider(failingProvider{err: boom}))

	_, err := g.Authorize(context.Background())
	assert.Same(t, boom, err)
	assert.Empty(t, f.sessionForms)
}

func TestAuthorize_RejectsConcurrentFlow(t *testing.T) {
	f := &fakeGitHub{password: "hunter2"}
	g, c := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	release, err := c.BeginFlow()
	require.NoError(t, err)

	_, err = g.Authorize(context.Background())
	assert.ErrorIs(t, err, core.ErrFlowInProgress)

	release()
	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorize_CanBeRetriedFromScratch(t *testing.T) {
	f := &fakeGitHub{password: "hunter2"}
	p := &scriptedProvider{passwords: []string{"wrong", "hunter2"}}
	g, _ := newFlow(t, f, WithProvider(p), WithMaxAttempts(1))

	_, err := g.Authorize(context.Background())
	require.ErrorIs(t, err, core.ErrTooManyAttempts)

	ok, err := g.Authorize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, p.credentialCalls)
}

func TestAuthorize_ContextCancelled(t *testing.T) {
	f := &fakeGitHub{password: "hunter2"}
	g, _ := newFlow(t, f, WithCredentials("octocat", "hunter2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Authorize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

var _ auth.Provider = (*scriptedProvider)(nil)
