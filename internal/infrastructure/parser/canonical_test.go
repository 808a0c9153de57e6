package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                    "",
		"  https://Example.COM/News/a/  ":     "https://example.com/News/a",
		"https://example.com/a?utm_source=x":  "https://example.com/a",
		"https://example.com/a?id=7&fbclid=z": "https://example.com/a?id=7",
		"https://example.com/a#comments":      "https://example.com/a",
		"https://example.com/":                "https://example.com/",
		"mc-guid-123":                         "mc-guid-123",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalizeURL(in), in)
	}
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://a.example/ipo/x", resolveLink("https://a.example/list/", "/ipo/x"))
	assert.Equal(t, "https://a.example/list/y", resolveLink("https://a.example/list/", "y"))
	assert.Equal(t, "https://b.example/z", resolveLink("https://a.example/", "https://b.example/z"))
	assert.Empty(t, resolveLink("https://a.example/", "  "))
}
