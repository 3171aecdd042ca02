package streams

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tool content chunks from web-facing tools (live search, page fetch) can
// carry HTML fragments. RenderText projects such content to plain text for
// terminal display; non-HTML content passes through unchanged.

var (
	htmlTagRe    = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// RenderText extracts readable text from HTML-bearing content. Headings and
// paragraphs become lines, list items get a leading dash, and links keep
// their target as "text (url)".
func RenderText(content string) string {
	if !looksLikeHTML(content) {
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}

	doc.Find("script, style, nav, footer, aside").Remove()

	var out strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(renderInline(s))
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			out.WriteString("- ")
		}
		out.WriteString(text)
		out.WriteString("\n")
	})

	// A fragment with none of the block elements above still has text.
	if out.Len() == 0 {
		return cleanText(doc.Text())
	}
	return cleanText(out.String())
}

// renderInline returns the selection's text with anchor targets preserved.
func renderInline(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find("a").Each(func(i int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		text := strings.TrimSpace(a.Text())
		if ok && href != "" && text != "" && text != href {
			a.ReplaceWithHtml(fmt.Sprintf("%s (%s)", text, href))
		}
	})
	return clone.Text()
}

// looksLikeHTML is a cheap structural check so plain text with stray angle
// brackets is not run through the parser.
func looksLikeHTML(content string) bool {
	return htmlTagRe.MatchString(content)
}

func cleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
