package markup_test

import (
	"strings"
	"testing"

	"github.com/dalemusser/collectives/internal/app/system/markup"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
		absent   []string
	}{
		{"empty", "", nil, nil},
		{"safe html kept", "<p><strong>Bold</strong> and <em>italic</em></p>", []string{"<strong>Bold</strong>", "<em>italic</em>"}, nil},
		{"script removed", "<p>Hello</p><script>alert('xss')</script>", []string{"<p>Hello</p>"}, []string{"script", "alert"}},
		{"onclick removed", `<button onclick="alert('xss')">Click</button>`, nil, []string{"onclick"}},
		{"javascript href removed", `<a href="javascript:alert('xss')">Click</a>`, nil, []string{"javascript:"}},
		{"safe link nofollow", `<a href="https://example.com">Link</a>`, []string{"https://example.com", "nofollow"}, nil},
		{"table attributes", `<table><tr><td colspan="2" rowspan="2">Cell</td></tr></table>`, []string{`colspan="2"`, `rowspan="2"`}, nil},
		{"iframe removed", `<p>Content</p><iframe src="https://evil.com"></iframe>`, []string{"Content"}, []string{"iframe"}},
		{"formatting kept", "<u>u</u> <s>s</s> <mark>m</mark>", []string{"<u>u</u>", "<s>s</s>", "<mark>m</mark>"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := markup.Sanitize(tt.input)
			for _, c := range tt.contains {
				if !strings.Contains(got, c) {
					t.Errorf("Sanitize(%q) = %q, missing %q", tt.input, got, c)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, a)
				}
			}
		})
	}
}

func TestRender(t *testing.T) {
	src := "# Sortie Vercors\n\nDépart **7h** au parking.\n\n- crampons\n- piolet\n\n<script>alert(1)</script>"
	got, err := markup.Render(src)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"<h1", "Sortie Vercors", "<strong>7h</strong>", "<li>crampons</li>"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "<script") {
		t.Errorf("script survived rendering: %q", got)
	}

	if got, _ := markup.Render("   "); got != "" {
		t.Errorf("blank source rendered %q", got)
	}
}

func TestIsPlainText(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"Hello, World!", true},
		{"3 < 5 and 6 > 2", true},
		{"<p>Hello</p>", false},
		{"line<br/>break", false},
	}
	for _, tt := range tests {
		if got := markup.IsPlainText(tt.input); got != tt.want {
			t.Errorf("IsPlainText(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	if got := markup.Excerpt("<p>Short   text</p>", 50); got != "Short text" {
		t.Errorf("Excerpt = %q", got)
	}
	if got := markup.Excerpt("abcdefghij", 4); got != "abcd…" {
		t.Errorf("Excerpt = %q", got)
	}
}
