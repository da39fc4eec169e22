package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Source supplies permissions decided by an external service, keyed by a
// logical session or project.
type Source interface {
	FetchPermissions(ctx context.Context, sessionKey string) (Permissions, error)
}

// HTTPSourceOptions configures an HTTPSource.
type HTTPSourceOptions struct {
	// BaseURL of the permission service, e.g. http://localhost:8080.
	BaseURL string

	// Timeout bounds each request. Zero means 10 seconds.
	Timeout time.Duration

	// MaxRPS caps outbound requests per second (0 = unlimited).
	MaxRPS float64

	// Token is sent as a bearer token when set.
	Token string
}

// HTTPSource fetches permissions from
// GET <BaseURL>/projects/<sessionKey>/permissions.
type HTTPSource struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	token   string
}

// Compile-time check that HTTPSource implements Source.
var _ Source = (*HTTPSource)(nil)

// remotePermissions is the permission service payload. Fields other than
// allow_write and allow_ddl are ignored.
type remotePermissions struct {
	AllowWrite bool `json:"allow_write"`
	AllowDDL   bool `json:"allow_ddl"`
}

// NewHTTPSource validates the base URL and builds a source.
func NewHTTPSource(opts HTTPSourceOptions) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid permissions URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid permissions URL %q: scheme must be http or https", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &HTTPSource{
		base:   base,
		client: &http.Client{Timeout: timeout},
		token:  opts.Token,
	}
	if opts.MaxRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return s, nil
}

// FetchPermissions asks the service for the permissions of sessionKey.
// Any failure is returned; nothing is defaulted to allowed.
func (s *HTTPSource) FetchPermissions(ctx context.Context, sessionKey string) (Permissions, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return Permissions{}, fmt.Errorf("fetch permissions: empty session key")
	}
	if sessionKey == "." || sessionKey == ".." {
		return Permissions{}, fmt.Errorf("fetch permissions: invalid session key %q", sessionKey)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Permissions{}, fmt.Errorf("fetch permissions: rate limiter: %w", err)
		}
	}

	// The key is one escaped segment; a slash in it never becomes a path step.
	endpoint := s.base.JoinPath("projects", url.PathEscape(sessionKey), "permissions")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Permissions{}, fmt.Errorf("fetch permissions: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Permissions{}, fmt.Errorf("fetch permissions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Permissions{}, fmt.Errorf("fetch permissions: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Permissions{}, fmt.Errorf("fetch permissions: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var rp remotePermissions
	if err := json.Unmarshal(body, &rp); err != nil {
		return Permissions{}, fmt.Errorf("fetch permissions: decode response: %w", err)
	}

	return Permissions{WriteAllowed: rp.AllowWrite, DDLAllowed: rp.AllowDDL}, nil
}
