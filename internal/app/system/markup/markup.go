// Package markup renders event descriptions written in Markdown and
// sanitises the resulting HTML before it is stored.
package markup

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy

	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)

	tagPattern = regexp.MustCompile(`<[a-zA-Z/][^>]*>`)
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
		p.AllowAttrs("class").OnElements("table", "tr", "td", "th")
		p.AllowElements("u", "s", "sub", "sup", "mark")
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// Sanitize strips scripts, event handlers and unsafe URLs from HTML.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return getPolicy().Sanitize(s)
}

// Render converts Markdown to sanitised HTML. Raw HTML embedded in the
// source is dropped by the renderer.
func Render(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return Sanitize(buf.String()), nil
}

// IsPlainText reports whether s contains no HTML tags.
func IsPlainText(s string) bool {
	return !tagPattern.MatchString(s)
}

// Excerpt returns the first n runes of the description text, tags removed,
// for mail bodies and listings.
func Excerpt(source string, n int) string {
	text := bluemonday.StrictPolicy().Sanitize(source)
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
