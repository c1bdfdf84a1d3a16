// Package compiler forwards code execution requests to a JDoodle-compatible service.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"collabroom/internal/logging"
)

// DefaultEndpoint is the public JDoodle execute API
const DefaultEndpoint = "https://api.jdoodle.com/v1/execute"

// maxResponseBytes bounds how much of an upstream reply is relayed
const maxResponseBytes = 1 << 20

// versionIndex selects the runtime version for each language
var versionIndex = map[string]string{
	"python3": "3",
	"java":    "3",
	"cpp":     "4",
	"nodejs":  "3",
	"c":       "4",
	"ruby":    "3",
	"go":      "3",
	"scala":   "3",
	"bash":    "3",
	"sql":     "3",
	"pascal":  "2",
	"csharp":  "3",
	"php":     "3",
	"swift":   "3",
	"rust":    "3",
	"r":       "3",
}

// Config holds upstream credentials and limits
type Config struct {
	Endpoint     string        `json:"endpoint" yaml:"endpoint"`
	ClientID     string        `json:"client_id" yaml:"client_id"`
	ClientSecret string        `json:"client_secret" yaml:"client_secret"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// Request is the client's compile request
type Request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type executeRequest struct {
	Script       string `json:"script"`
	Language     string `json:"language"`
	VersionIndex string `json:"versionIndex"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Client calls the compile service
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a compile client. httpClient may be nil.
func NewClient(config Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{config: config, httpClient: httpClient, logger: logging.OrDefault(logger)}
}

// Enabled reports whether credentials are present
func (c *Client) Enabled() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// Languages lists the supported language keys, sorted
func Languages() []string {
	languages := make([]string, 0, len(versionIndex))
	for language := range versionIndex {
		languages = append(languages, language)
	}
	sort.Strings(languages)
	return languages
}

// VersionIndex returns the runtime version for language
func VersionIndex(language string) (string, bool) {
	index, ok := versionIndex[language]
	return index, ok
}

// Compile executes req upstream and returns the raw JSON result
func (c *Client) Compile(ctx context.Context, req Request) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	if req.Code == "" {
		return nil, ErrEmptyCode
	}
	index, ok := versionIndex[req.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedLanguage, req.Language, strings.Join(Languages(), ", "))
	}

	body, err := json.Marshal(executeRequest{
		Script:       req.Code,
		Language:     req.Language,
		VersionIndex: index,
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compile request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build compile request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}
	c.logger.Debug("compile request finished",
		"language", req.Language, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrUpstream)
	}
	return json.RawMessage(payload), nil
}
