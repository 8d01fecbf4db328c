// Package rfqdoc ingests uploaded RFQ documents for enhanced runs:
// HTML is reduced to readable markdown, then structured research-brief
// fields are extracted from the content.
package rfqdoc

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// ParseResult contains the readable form of an uploaded document.
type ParseResult struct {
	Title    string
	Markdown string
	Text     string
}

// Converter reduces HTML documents to readable markdown.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates a document converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Converter{converter: converter}
}

// Convert reduces an HTML document to its readable content. Readability
// extraction runs first to strip boilerplate; when it fails, the whole
// document is converted.
func (c *Converter) Convert(htmlContent []byte, sourceURL string) (*ParseResult, error) {
	pageURL, _ := url.Parse(sourceURL)
	if pageURL == nil {
		pageURL = &url.URL{}
	}

	var title, contentHTML, text string
	article, err := readability.FromReader(bytes.NewReader(htmlContent), pageURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		title = article.Title
		contentHTML = article.Content
		text = article.TextContent
	} else {
		title = extractHTMLTitle(htmlContent)
		contentHTML = string(htmlContent)
	}

	markdown, err := c.converter.ConvertString(contentHTML)
	if err != nil {
		return nil, fmt.Errorf("convert document to markdown: %w", err)
	}
	markdown = cleanMarkdown(markdown)

	if title == "" {
		title = extractMarkdownTitle(markdown)
	}
	if text == "" {
		text = markdown
	}

	return &ParseResult{
		Title:    title,
		Markdown: markdown,
		Text:     strings.TrimSpace(text),
	}, nil
}

// extractHTMLTitle extracts the title element from HTML.
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" {
				return
			}
			extract(c)
		}
	}
	extract(doc)

	return title
}

// cleanMarkdown cleans up converted markdown.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")

	return strings.TrimSpace(content)
}

// extractMarkdownTitle extracts the first H1 heading from markdown.
func extractMarkdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
