// Package avatar proxies profile pictures so browsers can load them without CORS errors.
package avatar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabroom/internal/logging"
)

const (
	// DefaultAllowedSuffix matches Google-hosted profile pictures
	DefaultAllowedSuffix = "googleusercontent.com"

	cacheControl  = "public, max-age=3600"
	maxImageBytes = 5 << 20
	maxRedirects  = 10
)

var (
	ErrMissingURL    = errors.New("URL parameter is required")
	ErrDisallowedURL = errors.New("URL host is not an allowed profile image host")
)

// Config holds proxy settings
type Config struct {
	AllowedSuffix string        `json:"allowed_suffix" yaml:"allowed_suffix"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// Proxy fetches images from an allowed host and relays them with caching headers
type Proxy struct {
	suffix     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProxy creates a profile image proxy. httpClient may be nil.
func NewProxy(config Config, httpClient *http.Client, logger *slog.Logger) *Proxy {
	if config.AllowedSuffix == "" {
		config.AllowedSuffix = DefaultAllowedSuffix
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	p := &Proxy{
		suffix: strings.ToLower(strings.TrimPrefix(config.AllowedSuffix, ".")),
		logger: logging.OrDefault(logger),
	}

	// Redirects are held to the same host rule as the requested URL
	client := *httpClient
	client.CheckRedirect = p.checkRedirect
	p.httpClient = &client
	return p
}

func (p *Proxy) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if _, err := p.Validate(req.URL.String()); err != nil {
		return fmt.Errorf("redirect to %s: %w", req.URL.Host, err)
	}
	return nil
}

// Validate parses raw and checks it points at an allowed host
func (p *Proxy) Validate(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, ErrDisallowedURL
	}
	host := strings.ToLower(target.Hostname())
	if host != p.suffix && !strings.HasSuffix(host, "."+p.suffix) {
		return nil, ErrDisallowedURL
	}
	return target, nil
}

// ServeHTTP handles GET ?url=<image url>
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := p.Validate(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrDisallowedURL.Error())
		return
	}
	req.Header.Set("User-Agent", "collabroom-avatar-proxy/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("profile image fetch failed", "host", target.Host, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch profile image")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("profile image upstream status", "host", target.Host, "status", resp.StatusCode)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Upstream returned %d", resp.StatusCode))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		p.logger.Debug("profile image relay interrupted", "host", target.Host, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
