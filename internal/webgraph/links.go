package webgraph

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// AnchorLink is one outbound <a> tag found in a page, resolved against the
// page's own URL.
type AnchorLink struct {
	Source      string
	Destination string
	Text        string
	Rel         string
}

// ExtractAnchorLinks walks body's HTML and returns every absolute
// http(s) anchor link it contains, resolved relative to pageURL. It
// walks golang.org/x/net/html's token stream directly rather than
// building a DOM; link extraction needs no tree.
func ExtractAnchorLinks(body, pageURL string) []AnchorLink {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []AnchorLink
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}

		var href, rel string
		for _, attr := range token.Attr {
			switch attr.Key {
			case "href":
				href = attr.Val
			case "rel":
				rel = attr.Val
			}
		}
		if href == "" {
			continue
		}
		dest, err := base.Parse(href)
		if err != nil {
			continue
		}
		if dest.Scheme != "http" && dest.Scheme != "https" {
			continue
		}

		links = append(links, AnchorLink{
			Source:      pageURL,
			Destination: dest.String(),
			Text:        anchorText(tokenizer),
			Rel:         rel,
		})
	}
}

// anchorText consumes tokens up to the closing </a>, concatenating text
// nodes as the visible anchor text.
func anchorText(tokenizer *html.Tokenizer) string {
	var sb strings.Builder
	depth := 0
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return sb.String()
		}
		token := tokenizer.Token()
		switch tt {
		case html.TextToken:
			sb.WriteString(token.Data)
		case html.StartTagToken:
			if token.Data == "a" {
				depth++
			}
		case html.EndTagToken:
			if token.Data == "a" {
				if depth == 0 {
					return strings.TrimSpace(sb.String())
				}
				depth--
			}
		}
	}
}
