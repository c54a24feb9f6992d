package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// TokenCookie holds the local anti-forgery token.
	TokenCookie = "T"
	// SessionCookie holds the Observable session, set by the server.
	SessionCookie = "S"

	tokenBytes = 16

	// tokenLifetime is 172,800,000ms.
	tokenLifetime = 48 * time.Hour
)

// Token returns the local token cookie value, or "" if none is set.
func (c *Client) Token() string {
	return c.cookie(TokenCookie)
}

// Session returns the session cookie value, or "" if none is set.
func (c *Client) Session() string {
	return c.cookie(SessionCookie)
}

// EnsureToken generates the local token cookie unless one already exists.
// With regenerate set, a new token always replaces the current one.
func (c *Client) EnsureToken(regenerate bool) error {
	if !regenerate && c.Token() != "" {
		return nil
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	c.jar.SetCookies(c.cookieURL(), []*http.Cookie{{
		Name:    TokenCookie,
		Value:   hex.EncodeToString(buf),
		Domain:  c.access.Domain,
		Path:    c.access.Path,
		Expires: c.now().Add(tokenLifetime),
		Secure:  c.access.Secure,
	}})
	c.logger.Token("generated")
	return nil
}

func (c *Client) cookie(name string) string {
	for _, ck := range c.jar.Cookies(c.cookieURL()) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// cookieURL is the URL the access info scopes cookies to.
func (c *Client) cookieURL() *url.URL {
	scheme := "http"
	if c.access.Secure {
		scheme = "https"
	}
	return &url.URL{
		Scheme: scheme,
		Host:   strings.TrimPrefix(c.access.Domain, "."),
		Path:   c.access.Path,
	}
}
