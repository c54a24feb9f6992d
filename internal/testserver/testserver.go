// Package testserver runs an httptest server that answers for any host
// name, so tests can exercise cookies scoped to realistic domains.
package testserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Server routes requests to handlers by host name.
type Server struct {
	*httptest.Server
	hosts map[string]http.Handler
}

// New starts a server that dispatches on the request's host name (port
// stripped). Requests for unknown hosts get 502. The server is closed when
// the test ends.
func New(t testing.TB, hosts map[string]http.Handler) *Server {
	t.Helper()

	s := &Server{hosts: hosts}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		handler, ok := s.hosts[host]
		if !ok {
			http.Error(w, "unknown host "+host, http.StatusBadGateway)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client without a cookie jar whose connections all
// go to the server, whatever host the URL names.
func (s *Server) Client() *http.Client {
	addr := s.Listener.Addr().String()
	dialer := &net.Dialer{}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}
}
