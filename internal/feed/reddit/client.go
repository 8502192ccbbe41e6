// Package reddit implements feed.Source over Reddit's JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"feedrelay/internal/feed"
	logx "feedrelay/pkg/logx"
)

const (
	PublicBaseURL = "https://www.reddit.com"
	OAuthBaseURL  = "https://oauth.reddit.com"
	TokenURL      = "https://www.reddit.com/api/v1/access_token"

	defaultTimeout = 15 * time.Second
	defaultRPM     = 60
	defaultRetries = 3
	maxListing     = 100
)

var ErrNotFound = errors.New("reddit: item not found")

type Config struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	// BaseURL overrides the API host. Empty selects oauth.reddit.com when
	// credentials are set, www.reddit.com otherwise.
	BaseURL           string
	TokenURL          string
	Timeout           time.Duration
	RequestsPerMinute int
	RetryMax          int
	// Transport is the innermost round tripper; nil uses a pooled default.
	Transport http.RoundTripper
}

type Client struct {
	http    *retryablehttp.Client
	base    string
	ua      string
	limiter *rate.Limiter
	log     logx.Logger
}

var _ feed.Source = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		return nil, errors.New("reddit: user_agent is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRPM
	}
	retries := cfg.RetryMax
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultRetries
	}

	inner := cfg.Transport
	if inner == nil {
		inner = http.DefaultTransport.(*http.Transport).Clone()
	}
	inner = &userAgentTransport{ua: ua, base: inner}

	oauth := cfg.ClientID != "" && cfg.ClientSecret != ""
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = PublicBaseURL
		if oauth {
			base = OAuthBaseURL
		}
	}

	transport := inner
	if oauth {
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = TokenURL
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		// Token requests also need the User-Agent.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient,
			&http.Client{Transport: inner, Timeout: timeout})
		transport = &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: inner}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = leveledLogger{log: log}

	return &Client{
		http:    rc,
		base:    base,
		ua:      ua,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5),
		log:     log,
	}, nil
}

func (c *Client) RecentPosts(ctx context.Context, subject string, limit int) ([]feed.Post, error) {
	var out []feed.Post
	err := c.pages(ctx, "/r/"+url.PathEscape(subject)+"/new.json", limit, func(ch child) {
		if ch.Kind == kindPost {
			out = append(out, ch.Data.post())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("r/%s posts: %w", subject, err)
	}
	return out, nil
}

func (c *Client) RecentComments(ctx context.Context, subject string, limit int) ([]feed.Comment, error) {
	var out []feed.Comment
	err := c.pages(ctx, "/r/"+url.PathEscape(subject)+"/comments.json", limit, func(ch child) {
		if ch.Kind == kindComment {
			out = append(out, ch.Data.comment())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("r/%s comments: %w", subject, err)
	}
	return out, nil
}

// pages walks a listing newest first until limit children were requested or
// the listing ends. Listings cap a page at maxListing. A failed later page
// keeps what was already read; only a failed first page is an error.
func (c *Client) pages(ctx context.Context, path string, limit int, each func(child)) error {
	if limit <= 0 {
		limit = maxListing
	}
	after := ""
	for remaining, read := limit, 0; remaining > 0; {
		n := min(remaining, maxListing)
		q := limitQuery(n)
		if after != "" {
			q.Set("after", after)
		}
		var l listing
		if err := c.get(ctx, path, q, &l); err != nil {
			if read > 0 {
				c.log.Warn("listing page failed; using partial window",
					logx.String("path", path), logx.Int("have", read), logx.Err(err))
				return nil
			}
			return err
		}
		for _, ch := range l.Data.Children {
			each(ch)
		}
		read += len(l.Data.Children)
		remaining -= n
		after = l.Data.After
		if after == "" || len(l.Data.Children) == 0 {
			break
		}
	}
	return nil
}

// Parent fetches the item a comment replies to.
func (c *Client) Parent(ctx context.Context, cm feed.Comment) (feed.Item, error) {
	if cm.ParentID == "" {
		return nil, ErrNotFound
	}
	q := url.Values{}
	q.Set("id", cm.ParentID)
	var l listing
	if err := c.get(ctx, "/api/info.json", q, &l); err != nil {
		return nil, fmt.Errorf("parent %s: %w", cm.ParentID, err)
	}
	for _, ch := range l.Data.Children {
		switch ch.Kind {
		case kindPost:
			return ch.Data.post(), nil
		case kindComment:
			return ch.Data.comment(), nil
		}
	}
	return nil, fmt.Errorf("parent %s: %w", cm.ParentID, ErrNotFound)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, into any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("raw_json", "1")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func limitQuery(n int) url.Values {
	if n <= 0 || n > maxListing {
		n = maxListing
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(n))
	return q
}

type userAgentTransport struct {
	ua   string
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(r2)
}

// leveledLogger routes retryablehttp's logs into logx.
type leveledLogger struct{ log logx.Logger }

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Warn(msg, kvFields(kv)...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn(msg, kvFields(kv)...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug(msg, kvFields(kv)...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Trace(msg, kvFields(kv)...) }

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		// Request URLs can carry tokens; keep only the path.
		if u, ok := kv[i+1].(*url.URL); ok {
			out = append(out, logx.String(k, u.Path))
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
