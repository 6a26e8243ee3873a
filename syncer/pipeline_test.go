package syncer

import (
	"context"
	neturl "net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPipeline_Derive(t *testing.T) {
	p := NewDefaultPipeline(PipelineOptions{})
	rec, err := p.Derive(context.Background(), PageDoc{
		URL: "https://www.blog.example.co.uk/posts/growing-tomatoes/?utm_source=x&b=2&a=1",
		Content: PageContent{
			Title:    "Growing Tomatoes",
			FullText: "Tomatoes love the sun. The sun loves tomatoes!",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "blog.example.co.uk/posts/growing-tomatoes?a=1&b=2", rec.URL)
	assert.Equal(t, "https://www.blog.example.co.uk/posts/growing-tomatoes/?utm_source=x&b=2&a=1", rec.FullURL)
	assert.Equal(t, "Growing Tomatoes", rec.FullTitle)
	assert.Equal(t, "blog.example.co.uk", rec.Hostname)
	assert.Equal(t, "example.co.uk", rec.Domain)
	assert.Equal(t, []string{}, rec.Tags)
	assert.Equal(t, []string{"tomatoes", "love", "sun", "loves"}, rec.Terms)
	assert.Equal(t, []string{"growing", "tomatoes"}, rec.TitleTerms)
	assert.Equal(t, []string{"blog", "example", "posts", "growing", "tomatoes"}, rec.URLTerms)
	assert.Equal(t, "Tomatoes love the sun. The sun loves tomatoes!", rec.Text)
}

func TestDefaultPipeline_SchemelessKey(t *testing.T) {
	p := NewDefaultPipeline(PipelineOptions{})
	rec, err := p.Derive(context.Background(), PageDoc{URL: "example.com/about", Content: PageContent{Title: "example.com/about"}})
	require.NoError(t, err)
	assert.Equal(t, "example.com/about", rec.URL)
	assert.Equal(t, "example.com", rec.Domain)
	assert.Empty(t, rec.Text)
	assert.NotNil(t, rec.Terms)
}

func TestDefaultPipeline_RejectsEmptyURL(t *testing.T) {
	_, err := NewDefaultPipeline(PipelineOptions{}).Derive(context.Background(), PageDoc{})
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"http://Example.com/":                  "example.com",
		"https://www.example.com:443/a/b/":     "example.com/a/b",
		"http://example.com:8080/x#frag":       "example.com:8080/x",
		"https://example.com/?utm_medium=mail": "example.com",
		"https://example.com/s?q=go+lang":      "example.com/s?q=go+lang",
	}
	for in, want := range cases {
		u, err := neturl.Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, NormalizeURL(u), in)
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.com", registrableDomain("a.b.example.com"))
	assert.Equal(t, "127.0.0.1", registrableDomain("127.0.0.1"))
	assert.Equal(t, "localhost", registrableDomain("localhost"))
}
