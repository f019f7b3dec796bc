package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// UserAgent is sent with every outgoing request.
func UserAgent() string {
	return "LoadShift/" + strings.TrimSpace(version)
}

type headerTransport struct {
	transport http.RoundTripper
	userAgent string
	token     string
}

// RoundTrip implements the http.RoundTripper interface.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return AuthorizedHTTPClient(timeout, "")
}

// AuthorizedHTTPClient is like HTTPClient but also sends token as a bearer
// Authorization header when it is non-empty.
func AuthorizedHTTPClient(timeout time.Duration, token string) *http.Client {
	return &http.Client{
		Transport: &headerTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
			token:     token,
		},
		Timeout: timeout,
	}
}
