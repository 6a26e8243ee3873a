package syncer

import (
	"context"
	"fmt"
	"net"
	neturl "net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

type PipelineOptions struct {
	// MinTermLen is the shortest token kept as a term. Default: 3.
	MinTermLen int
	// MaxTerms caps each of terms, urlTerms and titleTerms. Default: 1000.
	MaxTerms int
}

func (o *PipelineOptions) defaults() {
	if o.MinTermLen <= 0 {
		o.MinTermLen = 3
	}
	if o.MaxTerms <= 0 {
		o.MaxTerms = 1000
	}
}

// DefaultPipeline derives identity fields from the page URL and index terms from its
// text, title and URL.
type DefaultPipeline struct {
	opts PipelineOptions
}

func NewDefaultPipeline(opts PipelineOptions) *DefaultPipeline {
	opts.defaults()
	return &DefaultPipeline{opts: opts}
}

func (p *DefaultPipeline) Derive(_ context.Context, doc PageDoc) (*PageRecord, error) {
	u, err := parsePageURL(doc.URL)
	if err != nil {
		return nil, err
	}
	hostname := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	text := normalizeWhitespace(doc.Content.FullText)
	title := normalizeWhitespace(doc.Content.Title)

	rec := &PageRecord{
		URL:        NormalizeURL(u),
		FullURL:    doc.URL,
		FullTitle:  title,
		Domain:     registrableDomain(hostname),
		Hostname:   hostname,
		Tags:       []string{},
		Terms:      ExtractTerms(text, p.opts.MinTermLen, p.opts.MaxTerms),
		URLTerms:   ExtractTerms(hostname+" "+u.Path, p.opts.MinTermLen, p.opts.MaxTerms),
		TitleTerms: ExtractTerms(title, p.opts.MinTermLen, p.opts.MaxTerms),
		Text:       text,
	}
	return rec, nil
}

func parsePageURL(raw string) (*neturl.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty page url")
	}
	u, err := neturl.Parse(withDefaultScheme(raw, "http"))
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("page url %q has no host", raw)
	}
	return u, nil
}

// withDefaultScheme prefixes scheme-less sync keys such as "example.com/a" or
// "localhost:3000/a". Opaque URLs like "mailto:x@y" are returned unchanged.
func withDefaultScheme(raw, scheme string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	head, _, _ := strings.Cut(raw, "/")
	if name, rest, ok := strings.Cut(head, ":"); ok && name != "" && !startsWithDigit(rest) && isSchemeName(name) {
		return raw
	}
	return scheme + "://" + raw
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func isSchemeName(s string) bool {
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// NormalizeURL produces the key pages are indexed under: no scheme, no "www.", no fragment,
// no default port, no tracking parameters, sorted query, no trailing slash.
func NormalizeURL(u *neturl.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && !(port == "80" && u.Scheme == "http") && !(port == "443" && u.Scheme == "https") {
		host = net.JoinHostPort(host, port)
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	out := host + path
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			for _, v := range q[k] {
				parts = append(parts, neturl.QueryEscape(k)+"="+neturl.QueryEscape(v))
			}
		}
		out += "?" + strings.Join(parts, "&")
	}
	return out
}

// registrableDomain returns eTLD+1, or the host itself for IPs and single-label hosts.
func registrableDomain(hostname string) string {
	if net.ParseIP(hostname) != nil {
		return hostname
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return hostname
	}
	return d
}
