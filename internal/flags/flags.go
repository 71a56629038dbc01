// Package flags finds feature flags mentioned in story descriptions and looks
// up their state in the Rollout (CloudBees Feature Management) public API.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/calvinalkan/shipit/internal/story"
)

// Defaults for Options and Parser.
const (
	DefaultBaseURL     = "https://x-api.rollout.io"
	DefaultEnvironment = "Production"
	DefaultURLTemplate = "https://app.rollout.io/app/{app}/flags?filter={name}"
)

// Error variables for flag lookups.
var (
	ErrTokenRequired  = errors.New("flags api token is required")
	ErrAppKeyRequired = errors.New("flags app key is required")
	ErrRequestFailed  = errors.New("flags request failed")
)

// A flag is written as container.name in a description. The surrounding
// characters keep paths, URLs and file names out.
var (
	namePattern    = regexp.MustCompile(`(?m)(^|[^\w.?/])([a-z]\w+\.[a-z]\w+)([^\w.?/]|$)`)
	ignoredPattern = regexp.MustCompile(`(?i)^(js|ts|png|gradle|io|kt|java|hooksPath)$`)
)

// Parser extracts flags from descriptions.
type Parser struct {
	AppKey string
	// URLTemplate may use {app} and {name}.
	URLTemplate string
}

// Parse returns the flags named in description, in order of first mention.
func (p Parser) Parse(description string) []story.Flag {
	flags := []story.Flag{}
	seen := make(map[string]bool)

	for _, m := range namePattern.FindAllStringSubmatch(description, -1) {
		full := m[2]

		container, name, _ := strings.Cut(full, ".")
		if ignoredPattern.MatchString(name) || seen[full] {
			continue
		}

		seen[full] = true

		flags = append(flags, story.Flag{
			FullName:  full,
			Container: container,
			Name:      name,
			URL:       p.url(full),
		})
	}

	return flags
}

func (p Parser) url(fullName string) string {
	tmpl := p.URLTemplate
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}

	return strings.NewReplacer(
		"{app}", url.PathEscape(p.AppKey),
		"{name}", url.QueryEscape(fullName),
	).Replace(tmpl)
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	AppKey      string
	Environment string
	Token       string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client reads flag states for one application environment.
type Client struct {
	baseURL     string
	appKey      string
	environment string
	http        *http.Client
	logger      *slog.Logger
}

// New returns a client that authenticates with a bearer token. opts.HTTPClient,
// when set, is used as the base transport.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrTokenRequired
	}

	if opts.AppKey == "" {
		return nil, ErrAppKeyRequired
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		appKey:      opts.AppKey,
		environment: opts.Environment,
		http:        oauth2.NewClient(ctx, src),
		logger:      opts.Logger,
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	if c.environment == "" {
		c.environment = DefaultEnvironment
	}

	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return c, nil
}

// States returns the enabled state of every flag of the environment, keyed by
// full name.
func (c *Client) States(ctx context.Context) (map[string]bool, error) {
	path := fmt.Sprintf("/public-api/applications/%s/%s/flags",
		url.PathEscape(c.appKey), url.PathEscape(c.environment))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: GET %s: %s", ErrRequestFailed, path, resp.Status)
	}

	var list []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}

	err = json.NewDecoder(resp.Body).Decode(&list)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: decode: %w", ErrRequestFailed, path, err)
	}

	states := make(map[string]bool, len(list))
	for _, f := range list {
		states[f.Name] = f.Enabled
	}

	c.logger.Debug("flag states loaded", "environment", c.environment, "count", len(states))

	return states, nil
}

// Apply sets Enabled on every flag of stories from states. Flags the service
// does not know are off.
func Apply(stories []*story.Story, states map[string]bool) {
	for _, s := range stories {
		for i := range s.Flags {
			s.Flags[i].Enabled = states[s.Flags[i].FullName]
		}
	}
}
