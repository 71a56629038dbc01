// Package tracker is a client for the Pivotal Tracker REST API (v5).
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/shipit/internal/story"
)

// DefaultBaseURL is the public Pivotal Tracker API.
const DefaultBaseURL = "https://www.pivotaltracker.com/services/v5"

const (
	tokenHeader        = "X-TrackerToken"
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 8
	kindLabel          = "label"
	kindReview         = "review"
)

// Error variables for tracker requests.
var (
	// ErrUnavailable marks transport failures and server errors. It wraps
	// story.ErrSourceUnavailable.
	ErrUnavailable   = fmt.Errorf("tracker unavailable: %w", story.ErrSourceUnavailable)
	ErrNotFound      = fmt.Errorf("tracker: %w", story.ErrNotFound)
	ErrRequestFailed = errors.New("tracker request failed")
	ErrTokenRequired = errors.New("tracker token is required")
)

// Options configure a Client.
type Options struct {
	BaseURL     string
	ProjectID   int64
	Token       string
	Concurrency int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to one tracker project.
type Client struct {
	baseURL     string
	projectID   int64
	token       string
	concurrency int
	http        *http.Client
	logger      *slog.Logger

	// answered is set once any request got a response below 500.
	answered atomic.Bool
}

// New returns a client. A missing base URL or HTTP client gets the defaults.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrTokenRequired
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		projectID:   opts.ProjectID,
		token:       opts.Token,
		concurrency: opts.Concurrency,
		http:        opts.HTTPClient,
		logger:      opts.Logger,
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}

	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}

	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return c, nil
}

// storyJSON is the wire form of a story.
type storyJSON struct {
	Kind         string   `json:"kind"`
	ID           int64    `json:"id"`
	ProjectID    int64    `json:"project_id"`
	StoryType    string   `json:"story_type"`
	CurrentState string   `json:"current_state"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Estimate     *float64 `json:"estimate"`
	AcceptedAt   string   `json:"accepted_at"`
	URL          string   `json:"url"`
	Labels       []struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
	} `json:"labels"`
}

func (j storyJSON) toStory() *story.Story {
	s := &story.Story{
		ID:           story.ID(j.ID),
		ProjectID:    j.ProjectID,
		ResourceKind: j.Kind,
		Type:         j.StoryType,
		State:        j.CurrentState,
		Name:         j.Name,
		Description:  j.Description,
		Estimate:     j.Estimate,
		URL:          j.URL,
		Labels:       []string{},
	}

	for _, l := range j.Labels {
		if l.Kind == "" || l.Kind == kindLabel {
			s.Labels = append(s.Labels, l.Name)
		}
	}

	if j.AcceptedAt != "" {
		if t, err := time.Parse(time.RFC3339, j.AcceptedAt); err == nil {
			s.AcceptedAt = t
		}
	}

	return s
}

// Story fetches a single story by ID. Results of any resource kind are
// returned; callers filter with story.IsStory.
func (c *Client) Story(ctx context.Context, id story.ID) (*story.Story, error) {
	var j storyJSON

	err := c.get(ctx, "/stories/"+id.String(), &j)
	if err != nil {
		return nil, err
	}

	return j.toStory(), nil
}

// Stories fetches stories concurrently, dropping IDs that fail to resolve or
// are not stories. The order of ids is kept. An error is returned only when
// every lookup failed with ErrUnavailable and Ping fails too.
func (c *Client) Stories(ctx context.Context, ids []story.ID) ([]*story.Story, error) {
	results := make([]*story.Story, len(ids))
	errs := make([]error, len(ids))

	var group errgroup.Group

	group.SetLimit(c.concurrency)

	for i, id := range ids {
		group.Go(func() error {
			results[i], errs[i] = c.Story(ctx, id)

			return nil
		})
	}

	_ = group.Wait()

	unavailable := 0

	var out []*story.Story

	for i, s := range results {
		switch {
		case errs[i] != nil:
			if errors.Is(errs[i], ErrUnavailable) {
				unavailable++
			}

			c.logger.Debug("story dropped", "story", ids[i], "err", errs[i])
		case !story.IsStory(s):
			c.logger.Debug("story dropped", "story", ids[i], "reason", "not a story")
		default:
			out = append(out, s)
		}
	}

	if len(ids) > 0 && unavailable == len(ids) && c.Ping(ctx) != nil {
		return nil, errs[0]
	}

	return out, nil
}

// Ping reports whether the tracker answers at all. It succeeds without a
// request once any earlier request got a response; otherwise it reads the
// project resource. Only an ErrUnavailable failure counts as unreachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.answered.Load() {
		return nil
	}

	var raw json.RawMessage

	err := c.get(ctx, c.projectPath(0), &raw)
	if errors.Is(err, ErrUnavailable) {
		return err
	}

	return nil
}

// AcceptedAfter lists the project's stories accepted after t.
func (c *Client) AcceptedAfter(ctx context.Context, t time.Time) ([]*story.Story, error) {
	var list []storyJSON

	path := c.projectPath(0) + "/stories?accepted_after=" + strconv.FormatInt(t.UnixMilli(), 10)

	err := c.get(ctx, path, &list)
	if err != nil {
		return nil, err
	}

	out := make([]*story.Story, 0, len(list))
	for _, j := range list {
		out = append(out, j.toStory())
	}

	return out, nil
}

// Blockers returns the blocker records of s. A payload that is not an array
// yields no blockers.
func (c *Client) Blockers(ctx context.Context, s *story.Story) ([]story.Blocker, error) {
	var raw json.RawMessage

	err := c.get(ctx, c.storyPath(s)+"/blockers", &raw)
	if err != nil {
		return nil, err
	}

	var list []struct {
		Description string `json:"description"`
	}

	if !isArray(raw) || json.Unmarshal(raw, &list) != nil {
		return []story.Blocker{}, nil
	}

	out := make([]story.Blocker, 0, len(list))
	for _, b := range list {
		out = append(out, story.Blocker{Description: b.Description})
	}

	return out, nil
}

// Reviews returns the reviews attached to s. Entries of other kinds are
// skipped, and a payload that is not an array yields none.
func (c *Client) Reviews(ctx context.Context, s *story.Story) ([]story.Review, error) {
	var raw json.RawMessage

	err := c.get(ctx, c.storyPath(s)+"/reviews", &raw)
	if err != nil {
		return nil, err
	}

	var list []struct {
		Kind         string `json:"kind"`
		ReviewTypeID int64  `json:"review_type_id"`
		Status       string `json:"status"`
	}

	if !isArray(raw) || json.Unmarshal(raw, &list) != nil {
		return []story.Review{}, nil
	}

	out := make([]story.Review, 0, len(list))

	for _, r := range list {
		if r.Kind != kindReview {
			continue
		}

		out = append(out, story.Review{TypeID: r.ReviewTypeID, Status: r.Status})
	}

	return out, nil
}

func (c *Client) projectPath(projectID int64) string {
	if projectID == 0 {
		projectID = c.projectID
	}

	return "/projects/" + strconv.FormatInt(projectID, 10)
}

func (c *Client) storyPath(s *story.Story) string {
	return c.projectPath(s.ProjectID) + "/stories/" + s.ID.String()
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusInternalServerError {
		c.answered.Store(true)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: GET %s", ErrNotFound, path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: GET %s: %s", ErrUnavailable, path, resp.Status)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: GET %s: %s", ErrRequestFailed, path, resp.Status)
	}

	err = json.NewDecoder(resp.Body).Decode(dst)
	if err != nil {
		return fmt.Errorf("%w: GET %s: decode: %w", ErrRequestFailed, path, err)
	}

	return nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && trimmed[0] == '['
}
