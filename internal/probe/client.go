package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Config controls collector behavior and URL construction.
type Config struct {
	BaseURL string
	// Paths maps a sub-endpoint to a path template using {district},
	// {season}, {competition} and {sub_endpoint} placeholders.
	Paths            map[string]string
	UserAgent        string
	CredentialHeader string
	Timeout          time.Duration
	MaxBodyBytes     int
	IgnoreRobots     bool
	FollowRedirects  bool
}

// Client implements discovery.Prober using the Colly collector.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. The credential travels with each request and is never
// stored on the client.
func New(cfg Config) *Client {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = cfg.IgnoreRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.CredentialHeader == "" {
		cfg.CredentialHeader = "Cookie"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.DisableCookies()
	if !cfg.FollowRedirects {
		c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}
	return &Client{cfg: cfg, baseCollector: c}
}

// URLFor renders the request URL for key.
func (c *Client) URLFor(key keyspace.CandidateKey) (string, error) {
	sub := key.SubEndpoint
	if sub == "" {
		sub = keyspace.DefaultSubEndpoint
	}
	tmpl, ok := c.pathFor(sub)
	if !ok {
		return "", discovery.NewConfigError("target.paths", fmt.Errorf("no path template for sub-endpoint %q", sub))
	}
	r := strings.NewReplacer(
		"{district}", key.District,
		"{season}", strconv.Itoa(key.SeasonYear),
		"{competition}", strconv.Itoa(key.CompetitionID),
		"{sub_endpoint}", sub,
	)
	return strings.TrimRight(c.cfg.BaseURL, "/") + r.Replace(tmpl), nil
}

func (c *Client) pathFor(sub string) (string, bool) {
	for name, path := range c.cfg.Paths {
		if strings.EqualFold(name, sub) {
			return path, true
		}
	}
	return "", false
}

// Probe executes a single HTTP GET. Network failures come back as
// *discovery.TransportError; any HTTP status is a successful probe.
func (c *Client) Probe(ctx context.Context, req discovery.ProbeRequest) (discovery.ProbeResult, error) {
	target, err := c.URLFor(req.Key)
	if err != nil {
		return discovery.ProbeResult{}, err
	}
	var (
		result   discovery.ProbeResult
		fetchErr error
	)
	start := time.Now()
	collector := c.baseCollector.Clone()
	collector.Context = ctx
	c.configureCollectorHooks(collector, req, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return discovery.ProbeResult{URL: target, Elapsed: time.Since(start)},
			&discovery.TransportError{URL: target, Err: err}
	}
	return result, nil
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	req discovery.ProbeRequest,
	start time.Time,
	result *discovery.ProbeResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if req.Credential != "" {
			r.Headers.Set(c.cfg.CredentialHeader, req.Credential)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = discovery.ProbeResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: headers.Get("Content-Type"),
			Headers:     headers,
			Body:        append([]byte(nil), r.Body...),
			Elapsed:     time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
