package reddit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"feedrelay/internal/feed"
	logx "feedrelay/pkg/logx"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func newTestClient(t *testing.T, cfg Config, rt roundTripFunc) *Client {
	t.Helper()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "linux:feedrelay-test:v0 (by /u/tester)"
	}
	if cfg.BaseURL == "" && cfg.ClientID == "" {
		cfg.BaseURL = "https://reddit.test"
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = -1
	}
	cfg.RequestsPerMinute = 6000
	cfg.Transport = rt
	c, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

const postsJSON = `{"data":{"after":null,"children":[
 {"kind":"t3","data":{"id":"p1","author":"alice","title":"Hello","permalink":"/r/x/comments/p1/hello/","url":"https://example.com"}},
 {"kind":"t3","data":{"id":"p2","author":"[deleted]","title":"Gone","permalink":"/r/x/comments/p2/gone/"}}
]}}`

func TestRecentPosts(t *testing.T) {
	var gotUA, gotPath, gotLimit string
	c := newTestClient(t, Config{}, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotPath = req.URL.Path
		gotLimit = req.URL.Query().Get("limit")
		return response(req, 200, postsJSON), nil
	})

	posts, err := c.RecentPosts(context.Background(), "x", 25)
	if err != nil {
		t.Fatalf("recent posts: %v", err)
	}
	if gotPath != "/r/x/new.json" || gotLimit != "25" {
		t.Fatalf("unexpected request %s limit=%s", gotPath, gotLimit)
	}
	if !strings.HasPrefix(gotUA, "linux:feedrelay-test") {
		t.Fatalf("user agent not sent: %q", gotUA)
	}
	if len(posts) != 2 || posts[0].ID != "p1" || posts[0].Author != "alice" {
		t.Fatalf("unexpected posts: %#v", posts)
	}
	if posts[1].Author != "" {
		t.Fatalf("deleted author should be empty, got %q", posts[1].Author)
	}
}

func TestRecentPostsPagesPastListingCap(t *testing.T) {
	var calls int32
	c := newTestClient(t, Config{}, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if atomic.AddInt32(&calls, 1) == 1 {
			if q.Get("limit") != "100" || q.Get("after") != "" {
				t.Errorf("first page query %s", req.URL.RawQuery)
			}
			return response(req, 200, `{"data":{"after":"t3_p1","children":[
			 {"kind":"t3","data":{"id":"p1","author":"alice","title":"One"}}]}}`), nil
		}
		if q.Get("limit") != "20" || q.Get("after") != "t3_p1" {
			t.Errorf("second page query %s", req.URL.RawQuery)
		}
		return response(req, 200, `{"data":{"after":null,"children":[
		 {"kind":"t3","data":{"id":"p2","author":"bob","title":"Two"}}]}}`), nil
	})

	posts, err := c.RecentPosts(context.Background(), "x", 120)
	if err != nil {
		t.Fatalf("recent posts: %v", err)
	}
	if len(posts) != 2 || posts[1].ID != "p2" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("posts = %#v after %d calls", posts, atomic.LoadInt32(&calls))
	}
}

func TestRecentCommentsPages(t *testing.T) {
	var calls int32
	c := newTestClient(t, Config{}, func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if req.URL.Path != "/r/x/comments.json" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		if n == 1 {
			if req.URL.Query().Get("limit") != "100" {
				t.Errorf("first page limit = %s", req.URL.Query().Get("limit"))
			}
			return response(req, 200, `{"data":{"after":"t1_c1","children":[
			 {"kind":"t1","data":{"id":"c1","author":"bob","body":"hi","parent_id":"t3_p1","link_id":"t3_p1","permalink":"/r/x/comments/p1/s/c1/"}}]}}`), nil
		}
		if req.URL.Query().Get("after") != "t1_c1" || req.URL.Query().Get("limit") != "50" {
			t.Errorf("unexpected second page query %s", req.URL.RawQuery)
		}
		return response(req, 200, `{"data":{"after":null,"children":[
		 {"kind":"t1","data":{"id":"c2","author":"alice","body":"yo","parent_id":"t1_c1","link_id":"t3_p1","permalink":"/r/x/comments/p1/s/c2/"}}]}}`), nil
	})

	got, err := c.RecentComments(context.Background(), "x", 150)
	if err != nil {
		t.Fatalf("recent comments: %v", err)
	}
	if len(got) != 2 || got[1].ParentID != "t1_c1" {
		t.Fatalf("unexpected comments: %#v", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 pages, got %d", calls)
	}
}

func TestParentComment(t *testing.T) {
	c := newTestClient(t, Config{}, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/info.json" || req.URL.Query().Get("id") != "t1_c1" {
			t.Errorf("unexpected request %s", req.URL.String())
		}
		return response(req, 200, `{"data":{"children":[{"kind":"t1","data":{"id":"c1","author":"bob","body":"hello world"}}]}}`), nil
	})

	it, err := c.Parent(context.Background(), feed.Comment{ID: "c2", ParentID: "t1_c1"})
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	pc, ok := it.(feed.Comment)
	if !ok || pc.Author != "bob" || pc.Body != "hello world" {
		t.Fatalf("unexpected parent: %#v", it)
	}
}

func TestParentNotFound(t *testing.T) {
	c := newTestClient(t, Config{}, func(req *http.Request) (*http.Response, error) {
		return response(req, 200, `{"data":{"children":[]}}`), nil
	})
	_, err := c.Parent(context.Background(), feed.Comment{ParentID: "t3_zz"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusErrorWithoutRetry(t *testing.T) {
	c := newTestClient(t, Config{}, func(req *http.Request) (*http.Response, error) {
		return response(req, 403, `{}`), nil
	})
	if _, err := c.RecentPosts(context.Background(), "x", 5); err == nil {
		t.Fatalf("expected error on 403")
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, Config{RetryMax: 1}, func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return response(req, 503, `{}`), nil
		}
		return response(req, 200, postsJSON), nil
	})
	posts, err := c.RecentPosts(context.Background(), "x", 5)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if len(posts) != 2 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("unexpected result posts=%d calls=%d", len(posts), calls)
	}
}

func TestOAuthFlow(t *testing.T) {
	var tokenCalls int32
	c := newTestClient(t, Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     "https://token.test/api/v1/access_token",
	}, func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "token.test" {
			atomic.AddInt32(&tokenCalls, 1)
			if u, p, ok := req.BasicAuth(); !ok || u != "id" || p != "secret" {
				t.Errorf("token request without basic auth")
			}
			if req.Header.Get("User-Agent") == "" {
				t.Errorf("token request without user agent")
			}
			return response(req, 200, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`), nil
		}
		if req.URL.Host != "oauth.reddit.com" {
			t.Errorf("expected oauth host, got %s", req.URL.Host)
		}
		if req.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token: %q", req.Header.Get("Authorization"))
		}
		return response(req, 200, postsJSON), nil
	})

	for i := 0; i < 2; i++ {
		if _, err := c.RecentPosts(context.Background(), "x", 5); err != nil {
			t.Fatalf("recent posts: %v", err)
		}
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Fatalf("token should be cached, got %d fetches", tokenCalls)
	}
}

func TestNewRequiresUserAgent(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error without user agent")
	}
}
