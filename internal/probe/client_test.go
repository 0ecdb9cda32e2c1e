package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL: baseURL,
		Paths: map[string]string{
			"default": "/saison/{season}/{district}/{competition}",
			"scorers": "/saison/{season}/{district}/{competition}/{sub_endpoint}",
		},
		UserAgent:        "discovery-test",
		CredentialHeader: "Cookie",
		Timeout:          2 * time.Second,
		IgnoreRobots:     true,
		FollowRedirects:  true,
	})
}

func TestURLFor(t *testing.T) {
	t.Parallel()

	c := newTestClient("https://example.test/")
	got, err := c.URLFor(keyspace.New("A", 2018, 1701, ""))
	require.NoError(t, err)
	require.Equal(t, "https://example.test/saison/2018/A/1701", got)

	got, err = c.URLFor(keyspace.New("B", 2017, 9, "Scorers"))
	require.NoError(t, err)
	require.Equal(t, "https://example.test/saison/2017/B/9/Scorers", got)

	_, err = c.URLFor(keyspace.New("B", 2017, 9, "roster"))
	require.Error(t, err)
	require.True(t, discovery.IsConfig(err))
}

func TestProbeCarriesCredentialAndReadsBody(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(srv.URL)
	res, err := c.Probe(context.Background(), discovery.ProbeRequest{
		Key:        keyspace.New("A", 2018, 1701, ""),
		Credential: "sid=secret",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "<html>ok</html>", string(res.Body))
	require.Equal(t, "text/html; charset=utf-8", res.ContentType)
	got := <-seen
	require.Equal(t, "sid=secret", got.Header.Get("Cookie"))
	require.Equal(t, "discovery-test", got.Header.Get("User-Agent"))
	require.Equal(t, "/saison/2018/A/1701", got.URL.Path)
}

func TestProbeReturnsErrorStatusesAsResults(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("status body"))
		}))
		res, err := newTestClient(srv.URL).Probe(context.Background(), discovery.ProbeRequest{Key: keyspace.New("A", 2018, 1, "")})
		srv.Close()
		require.NoError(t, err, code)
		require.Equal(t, code, res.StatusCode)
		require.Equal(t, "status body", string(res.Body))
	}
}

func TestProbeTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newTestClient(base).Probe(context.Background(), discovery.ProbeRequest{Key: keyspace.New("A", 2018, 1, "")})
	require.Error(t, err)
	require.True(t, discovery.IsTransport(err))
}

func TestProbeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(srv.URL).Probe(ctx, discovery.ProbeRequest{Key: keyspace.New("A", 2018, 1, "")})
	require.Error(t, err)
	require.True(t, discovery.IsTransport(err))
}

func TestProbeRedirectNotFollowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/login") {
			_, _ = w.Write([]byte("login page"))
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:      srv.URL,
		Paths:        map[string]string{"default": "/{district}/{season}/{competition}"},
		IgnoreRobots: true,
	})
	res, err := c.Probe(context.Background(), discovery.ProbeRequest{Key: keyspace.New("A", 2018, 1, "")})
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, res.StatusCode)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	c := New(Config{CredentialHeader: "Authorization"})
	var result discovery.ProbeResult
	var fetchErr error

	hooks := &stubHooks{}
	c.configureCollectorHooks(hooks, discovery.ProbeRequest{Credential: "Bearer t"}, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "Bearer t", collyReq.Headers.Get("Authorization"))

	u, err := url.Parse("https://example.test/x")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, "application/json", result.ContentType)
	require.Equal(t, "https://example.test/x", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}
