package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

const (
	maxExtractItems   = 20
	maxExtractChars   = 4000
	fallbackTextChars = 2000
)

// Extract pulls one kind of data from the page, chosen by a loose keyword
// in target: title, url, text, links, or inputs. Anything else falls back
// to a short text excerpt. The data rides in the result message, which is
// what the model reads.
func (t *Tools) Extract(ctx context.Context, page schemas.Page, target string) schemas.ActionResult {
	lower := strings.ToLower(target)

	switch {
	case strings.Contains(lower, "title"):
		title, err := page.Title(ctx)
		if err != nil {
			return t.extractFailure(target, err)
		}
		return schemas.NewActionSuccess("Page title: " + title)

	case strings.Contains(lower, "url"), strings.Contains(lower, "address"):
		url, err := page.URL(ctx)
		if err != nil {
			return t.extractFailure(target, err)
		}
		return schemas.NewActionSuccess("Page URL: " + url)

	case strings.Contains(lower, "text"), strings.Contains(lower, "content"):
		text, err := page.VisibleText(ctx)
		if err != nil {
			return t.extractFailure(target, err)
		}
		return schemas.NewActionSuccess(
			fmt.Sprintf("Page text content (truncated to %d chars):\n%s", maxExtractChars, truncateChars(text, maxExtractChars)))

	case strings.Contains(lower, "link"), strings.Contains(lower, "anchor"):
		doc, err := t.parsePage(ctx, page)
		if err != nil {
			return t.extractFailure(target, err)
		}
		links := collectLinks(doc)
		shown := links
		if len(shown) > maxExtractItems {
			shown = shown[:maxExtractItems]
		}
		lines := make([]string, 0, len(shown))
		for _, l := range shown {
			lines = append(lines, fmt.Sprintf("  %s (%s)", l.text, l.href))
		}
		return schemas.NewActionSuccess(
			fmt.Sprintf("Found %d links. Showing first %d:\n%s", len(links), len(shown), strings.Join(lines, "\n")))

	case strings.Contains(lower, "input"), strings.Contains(lower, "form"):
		doc, err := t.parsePage(ctx, page)
		if err != nil {
			return t.extractFailure(target, err)
		}
		inputs := collectInputs(doc)
		shown := inputs
		if len(shown) > maxExtractItems {
			shown = shown[:maxExtractItems]
		}
		lines := make([]string, 0, len(shown))
		for _, in := range shown {
			lines = append(lines, fmt.Sprintf("  %s(name=%q, placeholder=%q)", in.inputType, in.name, in.placeholder))
		}
		return schemas.NewActionSuccess(
			fmt.Sprintf("Found %d inputs. Showing first %d:\n%s", len(inputs), len(shown), strings.Join(lines, "\n")))

	default:
		text, err := page.VisibleText(ctx)
		if err != nil {
			return t.extractFailure(target, err)
		}
		return schemas.NewActionSuccess(
			fmt.Sprintf("Page content (first %d chars):\n%s", fallbackTextChars, truncateChars(text, fallbackTextChars)))
	}
}

func (t *Tools) parsePage(ctx context.Context, page schemas.Page) (*html.Node, error) {
	raw, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

func (t *Tools) extractFailure(target string, err error) schemas.ActionResult {
	t.logger.Error("Extraction failed",
		observability.ErrID(observability.ErrTextExtract),
		zap.String("target", target),
		zap.Error(err),
	)
	return schemas.NewActionFailure(fmt.Sprintf("Failed to extract %q from page", target), err)
}

type pageLink struct {
	text string
	href string
}

func collectLinks(doc *html.Node) []pageLink {
	var links []pageLink
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			links = append(links, pageLink{text: collectText(n), href: attrValue(n, "href")})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return links
}

type formInput struct {
	inputType   string
	name        string
	placeholder string
}

func collectInputs(doc *html.Node) []formInput {
	var inputs []formInput
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Input, atom.Textarea, atom.Select:
				inputType := attrValue(n, "type")
				if inputType == "" {
					inputType = "text"
				}
				inputs = append(inputs, formInput{
					inputType:   inputType,
					name:        attrValue(n, "name"),
					placeholder: attrValue(n, "placeholder"),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return inputs
}

// collectText extracts the visible text of a node subtree, whitespace
// normalized. Script, style, and noscript subtrees are skipped.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func truncateChars(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
