// Package richtext holds the small amount of HTML handling memos need:
// deciding whether editor output is empty, sanitizing stored bodies, and
// wrapping captured selections.
package richtext

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SelectionSeparator goes between existing memo content and an appended selection.
const SelectionSeparator = "\n\n"

const quoteOpen = `<blockquote style="border-left: 3px solid #7c4dff; padding-left: 10px; margin: 10px 0; color: #555;">`

// WrapSelection escapes text and wraps it in the memo's quote block.
func WrapSelection(text string) string {
	return quoteOpen + html.EscapeString(text) + "</blockquote>"
}

// AppendSelection returns content with the wrapped selection appended.
func AppendSelection(content, text string) string {
	if content == "" {
		return WrapSelection(text)
	}
	return content + SelectionSeparator + WrapSelection(text)
}

// StripTags returns the text content of an HTML fragment with entities decoded.
func StripTags(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// IsEmpty reports whether an HTML fragment has no visible text.
func IsEmpty(fragment string) bool {
	return strings.TrimSpace(StripTags(fragment)) == ""
}

var droppedElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Iframe: true,
	atom.Object: true,
	atom.Embed:  true,
	atom.Frame:  true,
}

var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"xlink:href": true,
}

// Sanitize removes executable content from an HTML fragment: script-like
// elements with their bodies, event-handler attributes and javascript: URLs.
// Tags are re-serialized; text passes through as written, entities included.
func Sanitize(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String()
		}
		// Token unescapes text in place, so copy the raw bytes first.
		raw := string(z.Raw())
		tok := z.Token()

		switch tt {
		case html.StartTagToken:
			if droppedElements[tok.DataAtom] {
				skipDepth++
				continue
			}
		case html.EndTagToken:
			if droppedElements[tok.DataAtom] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
		case html.SelfClosingTagToken:
			if droppedElements[tok.DataAtom] {
				continue
			}
		case html.CommentToken, html.DoctypeToken:
			continue
		}

		if skipDepth > 0 {
			continue
		}
		if tt == html.TextToken {
			b.WriteString(raw)
			continue
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			tok.Attr = cleanAttrs(tok.Attr)
		}
		b.WriteString(tok.String())
	}
}

func cleanAttrs(attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if urlAttrs[key] && isScriptURL(a.Val) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isScriptURL(v string) bool {
	v = strings.ToLower(strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, v))
	return strings.HasPrefix(v, "javascript:") || strings.HasPrefix(v, "vbscript:")
}
