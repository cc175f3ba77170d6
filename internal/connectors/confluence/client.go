package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/confluence-harvest/internal/harvest"
	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

const (
	// retryIntervalSeconds is the base of the retry backoff: the n-th
	// retry sleeps retryIntervalSeconds^n seconds.
	retryIntervalSeconds = 2.0

	// requestTimeout bounds a single page request. Attachment downloads
	// stream for longer and use no per-request deadline.
	requestTimeout = 2 * time.Minute

	// Proactive request throttle, applied before every call.
	requestsPerSecond = 10
	requestBurst      = 5
)

// API query fragments, matching what the harvest interprets from each
// endpoint: permissions on spaces, restrictions and attachment counts on
// content, versions on attachments.
const (
	spaceQuery      = "limit=100&expand=permissions"
	contentQuery    = "limit=50&expand=children.attachment,history.lastUpdated,body.storage,space,space.permissions,restrictions.read.restrictions.user,restrictions.read.restrictions.group"
	attachmentQuery = "limit=100&expand=version"
	searchQuery     = "limit=100&expand=content.extensions,content.container,content.space,space.description"
	userQuery       = "expand=groups,applicationRoles"
	pingPath        = "rest/api/space?limit=1"
)

// powerBackoff yields retryInterval^attempt seconds per retry. Wrapped
// in backoff.WithMaxRetries it forms the full retry policy: the wrapper
// owns exhaustion, the power curve owns spacing.
type powerBackoff struct {
	interval float64
	attempt  int
}

func (b *powerBackoff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(math.Pow(b.interval, float64(b.attempt)) * float64(time.Second))
}

func (b *powerBackoff) Reset() {
	b.attempt = 0
}

// Client issues authenticated calls against the Confluence REST API with
// retry, proactive throttling and cursor-following pagination. The
// underlying HTTP session is shared, created lazily and closed exactly
// once by Close.
type Client struct {
	cfg     *Config
	log     logger.Logger
	sleeper *harvest.CancellableSleeper
	limiter *rate.Limiter

	// retryInterval is the backoff base in seconds. Overridden in tests.
	retryInterval float64

	mu      sync.Mutex
	session *http.Client
}

// NewClient creates a client for the given configuration.
func NewClient(cfg *Config, log logger.Logger) *Client {
	return &Client{
		cfg:           cfg,
		log:           log,
		sleeper:       harvest.NewCancellableSleeper(),
		limiter:       rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		retryInterval: retryIntervalSeconds,
	}
}

// hostURL is the API base. Cloud instances serve the wiki under /wiki.
func (c *Client) hostURL() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Deployment == DeploymentCloud {
		return base + "/wiki"
	}
	return base
}

// resourceURL resolves a server-relative path (as found in _links fields)
// against the API base.
func (c *Client) resourceURL(path string) string {
	return c.hostURL() + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) spacesURL() string {
	return fmt.Sprintf("%s/rest/api/space?%s", c.hostURL(), spaceQuery)
}

func (c *Client) contentSearchURL(cql string) string {
	return fmt.Sprintf("%s/rest/api/content/search?cql=%s&%s", c.hostURL(), url.QueryEscape(cql), contentQuery)
}

func (c *Client) attachmentsURL(contentID string) string {
	return fmt.Sprintf("%s/rest/api/content/%s/child/attachment?%s", c.hostURL(), contentID, attachmentQuery)
}

func (c *Client) searchURL(cql string) string {
	return fmt.Sprintf("%s/rest/api/search?cql=%s&%s", c.hostURL(), url.QueryEscape(cql), searchQuery)
}

// usersURL lists users on the instance base, outside the wiki context.
func (c *Client) usersURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/rest/api/3/users/search"
}

// Session returns the shared HTTP client, creating it on first use.
func (c *Client) Session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.session = &http.Client{Timeout: requestTimeout}
	}
	return c.session
}

// Close cancels pending backoff sleeps and releases the shared session.
// It must only be called after all producers have stopped; a later call
// to Session recreates the session explicitly.
func (c *Client) Close() {
	c.sleeper.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.CloseIdleConnections()
		c.session = nil
	}
}

func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	if c.cfg.Deployment == DeploymentCloud {
		req.SetBasicAuth(c.cfg.AccountEmail, c.cfg.APIToken)
	} else {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.Session().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return resp, nil
}

// Get performs a GET with retry. Transient failures are retried up to the
// configured count with exponential backoff, cancellable mid-sleep; once
// retries are exhausted the call fails with ResourceUnavailableError.
// The caller owns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	policy := backoff.WithMaxRetries(&powerBackoff{interval: c.retryInterval}, uint64(c.cfg.RetryCount))

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, rawURL)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return nil, &ResourceUnavailableError{URL: rawURL, Attempts: attempt, Err: err}
		}

		c.log.Warn("request failed, retrying",
			zap.String("url", rawURL),
			zap.Int("retry", attempt),
			zap.Int("retry_count", c.cfg.RetryCount),
			zap.Error(err))

		if err := c.sleeper.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// GetJSON performs a GET with retry and decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// Pages walks a paginated endpoint starting at firstURL, sending each raw
// page body until the response carries no next link. A failure after zero
// or more delivered pages ends the stream without error: pages already
// delivered stand, the skip is logged, and the harvest moves on. The
// channel is closed when enumeration ends for any reason.
func (c *Client) Pages(ctx context.Context, firstURL string) <-chan json.RawMessage {
	pages := make(chan json.RawMessage)

	go func() {
		defer close(pages)

		next := firstURL
		for next != "" {
			body, err := c.getBody(ctx, next)
			if err != nil {
				c.log.Warn("skipping remaining pages for resource",
					zap.String("url", next),
					zap.Error(err))
				return
			}

			var envelope struct {
				Links pageLinks `json:"_links"`
			}
			if err := json.Unmarshal(body, &envelope); err != nil {
				c.log.Warn("malformed page response, skipping remaining pages",
					zap.String("url", next),
					zap.Error(err))
				return
			}

			select {
			case pages <- json.RawMessage(body):
			case <-ctx.Done():
				return
			}

			if envelope.Links.Next == "" {
				return
			}
			next = c.resourceURL(envelope.Links.Next)
		}
	}()

	return pages
}

func (c *Client) getBody(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

// Ping verifies connectivity with a one-space probe.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Get(ctx, c.resourceURL(pingPath))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
