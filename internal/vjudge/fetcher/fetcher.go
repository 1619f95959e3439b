package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	maxBodyBytes     = 32 << 20
)

// Config describes how one account talks to its remote site.
type Config struct {
	Endpoint  string
	UserAgent string
	// Proxy accepts http://, https:// and socks5:// URLs.
	Proxy string
	// Cookies seeds the jar with serialized "name=value" pairs.
	Cookies []string
	Headers map[string]string
	Timeout time.Duration

	// RequestsPerSecond bounds outgoing requests; 0 disables the limiter.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries applies to idempotent requests failing with a network error, 429 or 5xx.
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Response carries response details.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
	Duration   time.Duration
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s response failed: %w", r.URL, err)
	}
	return nil
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher is an HTTP client bound to one remote account.
type Fetcher struct {
	mu         sync.RWMutex
	base       *url.URL
	pending    []string
	client     *http.Client
	jar        http.CookieJar
	userAgent  string
	headers    map[string]string
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// ErrNoEndpoint is returned for relative requests before an endpoint is known.
var ErrNoEndpoint = errors.New("fetcher has no endpoint")

// New builds a Fetcher from cfg. Endpoint may be left empty and supplied
// later through EnsureEndpoint.
func New(cfg Config) (*Fetcher, error) {
	var base *url.URL
	if cfg.Endpoint != "" {
		var err error
		if base, err = parseEndpoint(cfg.Endpoint); err != nil {
			return nil, err
		}
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar failed: %w", err)
	}
	transport, err := newTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	f := &Fetcher{
		base:       base,
		client:     &http.Client{Timeout: cfg.Timeout, Transport: transport, Jar: jar},
		jar:        jar,
		userAgent:  cfg.UserAgent,
		headers:    cfg.Headers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryBaseDelay,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if base != nil {
		f.SetCookies(cfg.Cookies)
	} else {
		f.pending = cfg.Cookies
	}
	return f, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return base, nil
}

// EnsureEndpoint sets the endpoint when the account did not override it.
func (f *Fetcher) EnsureEndpoint(endpoint string) error {
	f.mu.Lock()
	if f.base != nil {
		f.mu.Unlock()
		return nil
	}
	base, err := parseEndpoint(endpoint)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.base = base
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	f.SetCookies(pending)
	return nil
}

func (f *Fetcher) baseURL() *url.URL {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base
}

func newTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		return transport, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxyURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("invalid socks proxy %q: %w", proxyURL, err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

// URL resolves path against the endpoint. Absolute URLs are returned unchanged.
func (f *Fetcher) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return f.Endpoint() + path
}

// Endpoint returns the base URL, or "" when none is set yet.
func (f *Fetcher) Endpoint() string {
	base := f.baseURL()
	if base == nil {
		return ""
	}
	return base.String()
}

// Get issues a GET request with optional query parameters.
func (f *Fetcher) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	target := f.URL(path)
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return f.Do(ctx, http.MethodGet, target, nil, nil)
}

// PostForm submits an urlencoded form.
func (f *Fetcher) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	return f.Do(ctx, http.MethodPost, f.URL(path), []byte(form.Encode()), header)
}

// Do sends one request. GET and HEAD are retried with exponential backoff on
// transport errors, 429 and 5xx; the last response is returned once retries run out.
func (f *Fetcher) Do(ctx context.Context, method, target string, body []byte, header http.Header) (*Response, error) {
	if strings.HasPrefix(target, "/") {
		return nil, ErrNoEndpoint
	}
	idempotent := method == http.MethodGet || method == http.MethodHead
	var last *Response
	attempt := func() error {
		resp, err := f.once(ctx, method, target, body, header)
		if err != nil {
			if !idempotent || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		last = resp
		if idempotent && retryableStatus(resp.StatusCode) {
			return fmt.Errorf("%s %s: status %d", method, target, resp.StatusCode)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryDelay
	policy.MaxInterval = 10 * f.retryDelay
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithContext(policy, ctx)
	if !idempotent {
		b = backoff.WithMaxRetries(b, 0)
	} else {
		b = backoff.WithMaxRetries(b, uint64(f.maxRetries))
	}

	err := backoff.Retry(attempt, b)
	if last != nil && (err == nil || retryableStatus(last.StatusCode)) {
		return last, nil
	}
	return nil, err
}

func (f *Fetcher) once(ctx context.Context, method, target string, body []byte, header http.Header) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL,
		Duration:   time.Since(start),
	}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Cookies exports the cookies the jar would send to the endpoint as "name=value" pairs.
func (f *Fetcher) Cookies() []string {
	base := f.baseURL()
	if base == nil {
		return nil
	}
	cookies := f.jar.Cookies(base)
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.Name+"="+c.Value)
	}
	return out
}

// SetCookies loads serialized cookies into the jar for the endpoint.
func (f *Fetcher) SetCookies(lines []string) {
	base := f.baseURL()
	if len(lines) == 0 || base == nil {
		return
	}
	cookies := make([]*http.Cookie, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		cookies = append(cookies, c)
	}
	f.jar.SetCookies(base, cookies)
}
