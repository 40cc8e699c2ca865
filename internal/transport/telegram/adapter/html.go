package adapter

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	kit "streamwatch/internal/transport"
)

// Telegram limits.
const (
	captionLimit = 1024
	textLimit    = 4096
)

func esc(s string) string { return html.EscapeString(s) }

func bold(s string) string   { return "<b>" + esc(s) + "</b>" }
func italic(s string) string { return "<i>" + esc(s) + "</i>" }

func link(text, url string) string {
	if strings.TrimSpace(url) == "" {
		return esc(text)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, esc(url), esc(text))
}

// renderCard renders the card body in Telegram HTML parse mode.
func renderCard(c kit.Card) []string {
	var lines []string
	if c.Author != "" {
		lines = append(lines, "<b>"+link(c.Author, c.AuthorURL)+"</b>")
	}
	if c.Title != "" {
		lines = append(lines, link(c.Title, c.URL))
	}
	if c.Description != "" {
		lines = append(lines, esc(c.Description))
	}
	if len(c.Fields) > 0 {
		lines = append(lines, "")
		for _, f := range c.Fields {
			lines = append(lines, bold(f.Name+":")+" "+esc(f.Value))
		}
	}
	if c.Footer != "" {
		lines = append(lines, "", italic(c.Footer))
	}
	return lines
}

func render(content kit.Content) string {
	lines := renderCard(content.Card)
	if h := strings.TrimSpace(content.Headline); h != "" {
		lines = append([]string{esc(h), ""}, lines...)
	}
	return strings.Join(lines, "\n")
}

// renderCaption renders content for a photo caption, dropping trailing
// lines until it fits.
func renderCaption(content kit.Content) string {
	return fit(content, captionLimit)
}

func renderText(content kit.Content) string {
	return fit(content, textLimit)
}

func fit(content kit.Content, limit int) string {
	s := render(content)
	if visibleLen(s) <= limit {
		return s
	}
	// Footer and fields go first; the description is cut last.
	c := content
	c.Card.Footer = ""
	for len(c.Card.Fields) > 0 {
		c.Card.Fields = c.Card.Fields[:len(c.Card.Fields)-1]
		if s = render(c); visibleLen(s) <= limit {
			return s
		}
	}
	over := visibleLen(render(c)) - limit
	rs := []rune(c.Card.Description)
	if keep := len(rs) - over - 1; keep > 0 {
		c.Card.Description = string(rs[:keep]) + "…"
	} else {
		c.Card.Description = ""
	}
	return render(c)
}

// visibleLen approximates the length Telegram counts after entity parsing.
func visibleLen(s string) int {
	n := 0
	for i := 0; i < len(s); {
		switch s[i] {
		case '<':
			if j := strings.IndexByte(s[i:], '>'); j >= 0 {
				i += j + 1
				continue
			}
		case '&':
			if j := strings.IndexByte(s[i:], ';'); j > 0 && j <= 8 {
				n++
				i += j + 1
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		n++
		i += size
	}
	return n
}
