// Package client provides the Observable session client: cookie-jar scoped
// access to the Observable API with retry and rate limiting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/DrewBradfordXYZ/observable-go/core"
)

const (
	// DefaultSiteURL is the Observable front-end origin.
	DefaultSiteURL = "https://observablehq.com"
	// DefaultAPIURL is the Observable API origin.
	DefaultAPIURL = "https://api.observablehq.com"

	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

// AccessInfo scopes the cookies the client reads and writes.
type AccessInfo struct {
	Domain string
	Path   string
	Secure bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// URL is the effective URL after redirects were followed.
	URL *url.URL
}

// EffectiveURL returns the post-redirect URL as a string.
func (r *Response) EffectiveURL() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Client talks to the Observable API through a single shared cookie jar.
//
// The jar and the local token are mutated in place, so only one login
// flow may run per Client at a time (see BeginFlow). Use separate Clients
// for concurrent logins.
type Client struct {
	siteURL string
	apiURL  string
	access  *AccessInfo

	httpClient *http.Client
	jar        http.CookieJar
	timeout    time.Duration

	// Retry configuration (GET only)
	maxRetries int
	retryDelay time.Duration

	limiter *rate.Limiter
	logger  *core.Logger

	inFlow atomic.Bool
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSiteURL sets the site origin sent as Origin (default https://observablehq.com).
func WithSiteURL(siteURL string) Option {
	return func(c *Client) {
		c.siteURL = siteURL
	}
}

// WithAPIURL sets the API origin (default https://api.observablehq.com).
func WithAPIURL(apiURL string) Option {
	return func(c *Client) {
		c.apiURL = apiURL
	}
}

// WithAccessInfo sets the cookie scope (default ".{site host}", "/", secure).
func WithAccessInfo(info AccessInfo) Option {
	return func(c *Client) {
		c.access = &info
	}
}

// WithHTTPClient sets the underlying HTTP client. The client is copied, so
// the caller's value is never modified. Its Jar is used as the shared
// cookie jar when set; otherwise a new jar is attached to the copy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often a GET is retried on 429/5xx (default 2).
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = max(0, n)
	}
}

// WithRetryDelay sets the base delay between retries (default 500ms).
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithRateLimit limits outbound requests to rps per second with the given
// burst (default 10 rps, burst 10). A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, burst))
	}
}

// WithLogger sets the logger.
func WithLogger(l *core.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDebug enables debug logging.
func WithDebug(enabled bool) Option {
	return func(c *Client) {
		c.logger = core.NewLogger(enabled)
	}
}

// New creates a new session client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		siteURL:    DefaultSiteURL,
		apiURL:     DefaultAPIURL,
		timeout:    30 * time.Second,
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.siteURL = strings.TrimRight(c.siteURL, "/")
	c.apiURL = strings.TrimRight(c.apiURL, "/")

	site, err := url.Parse(c.siteURL)
	if err != nil || site.Scheme == "" || site.Host == "" {
		return nil, core.NewConfigurationError("invalid site URL %q", c.siteURL)
	}
	if api, err := url.Parse(c.apiURL); err != nil || api.Scheme == "" || api.Host == "" {
		return nil, core.NewConfigurationError("invalid API URL %q", c.apiURL)
	}

	if c.access == nil {
		c.access = &AccessInfo{
			Domain: "." + site.Hostname(),
			Path:   "/",
			Secure: true,
		}
	}
	if c.access.Domain == "" {
		c.access.Domain = "." + site.Hostname()
	}
	if c.access.Path == "" {
		c.access.Path = "/"
	}

	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Limit(10), 10)
	}
	if c.logger == nil {
		c.logger = core.NewLogger(false)
	}

	hc := &http.Client{}
	if c.httpClient != nil {
		copied := *c.httpClient
		hc = &copied
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	c.jar = hc.Jar
	c.httpClient = hc
	if c.timeout > 0 {
		c.httpClient.Timeout = c.timeout
	}

	return c, nil
}

// SiteURL returns the configured site origin without a trailing slash.
func (c *Client) SiteURL() string { return c.siteURL }

// APIURL returns the configured API origin without a trailing slash.
func (c *Client) APIURL() string { return c.apiURL }

// AccessInfo returns the cookie scope.
func (c *Client) AccessInfo() AccessInfo { return *c.access }

// Jar returns the shared cookie jar.
func (c *Client) Jar() http.CookieJar { return c.jar }

// Logger returns the client's logger.
func (c *Client) Logger() *core.Logger { return c.logger }

// Get performs a GET against the API; data becomes query parameters.
func (c *Client) Get(ctx context.Context, route string, data any) (*Response, error) {
	return c.Request(ctx, http.MethodGet, route, data)
}

// Post performs a POST against the API; data becomes the request body.
func (c *Client) Post(ctx context.Context, route string, data any) (*Response, error) {
	return c.Request(ctx, http.MethodPost, route, data)
}

// Delete performs a DELETE against the API.
func (c *Client) Delete(ctx context.Context, route string) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, route, nil)
}

// Request sends method to {apiURL}/{route} with an Origin header.
//
// For GET, data (url.Values, map[string]string or a raw query string)
// becomes the query string. For POST, strings, byte slices and url.Values
// are sent form-encoded and anything else as JSON. DELETE does not accept
// data. A local token is generated first if none exists.
//
// Responses with status >= 400 are returned together with an *core.APIError.
// Transport errors are returned as-is.
func (c *Client) Request(ctx context.Context, method, route string, data any) (*Response, error) {
	m := strings.ToLower(method)
	if m != "get" && m != "post" && m != "delete" {
		return nil, &core.InvalidMethodError{Method: method}
	}

	if err := c.EnsureToken(false); err != nil {
		return nil, err
	}

	target, err := url.Parse(c.apiURL + "/" + strings.TrimPrefix(route, "/"))
	if err != nil {
		return nil, fmt.Errorf("building request URL: %w", err)
	}

	var (
		payload     []byte
		contentType string
	)
	if data != nil {
		switch m {
		case "get":
			query, err := queryValues(data)
			if err != nil {
				return nil, &core.UnsupportedDataError{Method: method, Reason: err.Error()}
			}
			q := target.Query()
			for k, vs := range query {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			target.RawQuery = q.Encode()
		case "post":
			payload, contentType, err = encodeBody(data)
			if err != nil {
				return nil, err
			}
		default:
			return nil, &core.UnsupportedDataError{Method: method}
		}
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(m), target.String(), body)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Origin", c.siteURL)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.do(req)
		if err == nil || m != "get" || attempt >= c.maxRetries || !core.IsRetryableError(err) {
			return resp, err
		}

		delay := retryDelay(resp, c.retryDelay, attempt)
		c.logger.Retry(attempt+1, c.maxRetries, delay, err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Submit posts a form to an absolute URL through the shared cookie jar, the
// way a browser submits a login form.
func (c *Client) Submit(ctx context.Context, target string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeForm)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL,
	}
	c.logger.Timing(req.Method, req.URL.Redacted(), time.Since(start))

	if resp.StatusCode >= 400 {
		return out, core.ParseErrorResponse(resp, body, req.URL.String())
	}
	return out, nil
}

// IsAuthorized reports whether a session cookie exists and the API accepts
// it. Request errors are returned rather than reported as false.
func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	if c.Session() == "" {
		return false, nil
	}
	if _, err := c.Get(ctx, "/user", nil); err != nil {
		return false, err
	}
	return true, nil
}

// BeginFlow marks the start of a login flow on this client. It fails with
// core.ErrFlowInProgress while another flow holds the client. The returned
// release function is safe to call more than once.
func (c *Client) BeginFlow() (release func(), err error) {
	if !c.inFlow.CompareAndSwap(false, true) {
		return nil, core.ErrFlowInProgress
	}
	var once sync.Once
	return func() {
		once.Do(func() { c.inFlow.Store(false) })
	}, nil
}

func queryValues(data any) (url.Values, error) {
	switch d := data.(type) {
	case url.Values:
		return d, nil
	case map[string]string:
		q := make(url.Values, len(d))
		for k, v := range d {
			q.Set(k, v)
		}
		return q, nil
	case map[string][]string:
		return url.Values(d), nil
	case string:
		return url.ParseQuery(strings.TrimPrefix(d, "?"))
	default:
		return nil, fmt.Errorf("cannot encode %T as query parameters", data)
	}
}

func encodeBody(data any) ([]byte, string, error) {
	switch d := data.(type) {
	case string:
		return []byte(d), contentTypeForm, nil
	case []byte:
		return d, contentTypeForm, nil
	case url.Values:
		return []byte(d.Encode()), contentTypeForm, nil
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, "", fmt.Errorf("encoding request body: %w", err)
		}
		return b, contentTypeJSON, nil
	}
}

// retryDelay uses Retry-After when the server sent one, else exponential backoff.
func retryDelay(resp *Response, base time.Duration, attempt int) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			var seconds int
			if _, err := fmt.Sscanf(ra, "%d", &seconds); err == nil && seconds >= 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return base * time.Duration(math.Pow(2, float64(attempt)))
}
