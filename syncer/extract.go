package syncer

import (
	"bytes"
	"html"
	"net/url"
	"regexp"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// minReadableText is the shortest readability output trusted over the plain body text.
// Readability sometimes returns only a byline or a caption on listing pages.
const minReadableText = 200

// Extractor pulls a title and the main text out of an HTML document.
type Extractor struct {
	strip *bluemonday.Policy
}

func NewExtractor() *Extractor {
	return &Extractor{strip: bluemonday.StrictPolicy()}
}

func (x *Extractor) Extract(body []byte, pageURL *url.URL) PageContent {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageContent{FullText: x.stripTags(string(body))}
	}

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}
	title = normalizeWhitespace(title)

	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		var buf strings.Builder
		if err := article.RenderText(&buf); err == nil {
			text := normalizeWhitespace(buf.String())
			if len(text) >= minReadableText {
				return PageContent{Title: title, FullText: text}
			}
		}
	}

	doc.Find("script, style, noscript, nav, footer, header, iframe, svg").Remove()
	var text string
	if bodyHTML, err := doc.Find("body").First().Html(); err == nil && bodyHTML != "" {
		text = x.stripTags(bodyHTML)
	} else {
		text = normalizeWhitespace(doc.Text())
	}
	return PageContent{Title: title, FullText: text}
}

// Block-level closing tags become spaces so words on either side do not get glued together.
var blockBoundary = regexp.MustCompile(`(?i)</?(p|div|br|li|h[1-6]|tr|td|th|section|article|blockquote|pre)[^>]*>`)

// stripTags drops all markup. bluemonday escapes the text it keeps; the index wants it raw.
func (x *Extractor) stripTags(markup string) string {
	spaced := blockBoundary.ReplaceAllString(markup, " $0 ")
	return normalizeWhitespace(html.UnescapeString(x.strip.Sanitize(spaced)))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
