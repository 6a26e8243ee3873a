package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"syscall"
	"time"
)

// HTTPFetcherConfig configures HTTPFetcher.
type HTTPFetcherConfig struct {
	Timeout      time.Duration // Default: 30s.
	MaxBytes     int64         // Max body size read. Default: 10MB.
	UserAgent    string
	MaxRedirects int // Default: 5.
	// Client overrides the HTTP client (tests). Timeout and redirect policy are not applied to it.
	Client *http.Client
}

func (c *HTTPFetcherConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "sync-enricher/1.0"
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
}

// HTTPFetcher fetches pages over HTTP and extracts their title and main text.
type HTTPFetcher struct {
	client    *http.Client
	config    HTTPFetcherConfig
	extractor *Extractor
}

func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		maxRedirects := cfg.MaxRedirects
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		}
	}
	return &HTTPFetcher{client: client, config: cfg, extractor: NewExtractor()}
}

var supportedContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/plain":            true,
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, rawURL string) (*FetchedPage, error) {
	// Sync keys may be stored without a scheme.
	u, err := neturl.Parse(withDefaultScheme(strings.TrimSpace(rawURL), "https"))
	if err != nil {
		return nil, permanentErr(rawURL, 0, fmt.Errorf("parse url: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, permanentErr(rawURL, 0, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, permanentErr(rawURL, 0, errors.New("missing host"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, permanentErr(rawURL, 0, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if isRetryableStatus(resp.StatusCode) {
			return nil, temporaryErr(rawURL, resp.StatusCode, nil)
		}
		return nil, permanentErr(rawURL, resp.StatusCode, nil)
	}

	mediaType := "text/html"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, permanentErr(rawURL, resp.StatusCode, fmt.Errorf("content type %q: %w", ct, err))
		}
		mediaType = mt
	}
	if !supportedContentTypes[mediaType] {
		return nil, permanentErr(rawURL, resp.StatusCode, fmt.Errorf("unsupported content type %q", mediaType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, classifyTransportError(rawURL, fmt.Errorf("read body: %w", err))
	}

	pageURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL
	}

	var content PageContent
	if mediaType == "text/plain" {
		content = PageContent{FullText: normalizeWhitespace(string(body))}
	} else {
		content = f.extractor.Extract(body, pageURL)
	}
	return &FetchedPage{URL: pageURL.String(), Content: content}, nil
}

// isRetryableStatus follows the usual split: server errors and throttling are transient,
// other client errors are not.
func isRetryableStatus(status int) bool {
	switch {
	case status >= 500 && status <= 599:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func classifyTransportError(url string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return temporaryErr(url, 0, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound && !dnsErr.IsTemporary {
			return permanentErr(url, 0, err)
		}
		return temporaryErr(url, 0, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return temporaryErr(url, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return temporaryErr(url, 0, err)
	}

	// Bad certificates and redirect loops will not fix themselves.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "certificate") || strings.Contains(msg, "too many redirects") {
		return permanentErr(url, 0, err)
	}
	return temporaryErr(url, 0, err)
}
