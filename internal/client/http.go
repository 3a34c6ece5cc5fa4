package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPAdapterName is the selector of the remote adapter.
const HTTPAdapterName = "http"

// HTTPConfig configures the remote adapter.
type HTTPConfig struct {
	// BaseURL resolves names that are not already absolute URLs.
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	RetryMax int
}

// HTTPAdapter creates and deletes databases on a CouchDB-compatible server
// with PUT and DELETE on the database URL.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
}

// NewHTTPAdapter creates a remote adapter.
func NewHTTPAdapter(cfg HTTPConfig, logger *slog.Logger) *HTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = logger.With(slog.String("component", "http-adapter"))

	return &HTTPAdapter{cfg: cfg, client: rc}
}

// Name returns "http".
func (a *HTTPAdapter) Name() string { return HTTPAdapterName }

// IsRemoteName reports whether name is an absolute http(s) URL.
func IsRemoteName(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// Create issues PUT on the database URL. An existing database (412) is
// treated as success.
func (a *HTTPAdapter) Create(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodPut, name, http.StatusCreated, http.StatusAccepted, http.StatusPreconditionFailed)
}

// Destroy issues DELETE on the database URL. A missing database (404) is
// treated as success.
func (a *HTTPAdapter) Destroy(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodDelete, name, http.StatusOK, http.StatusAccepted, http.StatusNotFound)
}

func (a *HTTPAdapter) do(ctx context.Context, method, name string, accept ...int) error {
	target, err := a.resolve(name)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(target), err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	for _, code := range accept {
		if resp.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("%s %s: unexpected status %d", method, redact(target), resp.StatusCode)
}

func (a *HTTPAdapter) resolve(name string) (string, error) {
	if IsRemoteName(name) {
		if _, err := url.Parse(name); err != nil {
			return "", errInvalidName(name, err.Error())
		}
		return name, nil
	}
	if strings.TrimSpace(name) == "" {
		return "", errInvalidName(name, "must not be blank")
	}
	if a.cfg.BaseURL == "" {
		return "", errInvalidName(name, "not a URL and no remote base URL is configured")
	}
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/" + url.PathEscape(name), nil
}

// redact strips credentials from a URL before it reaches logs or errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
