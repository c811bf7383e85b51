package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ListingEntry is one post as it appears on the account's own profile
// listing: the identifier from its permalink, the article's full
// rendered text, and the text of each top-level block inside it. The
// blocks matter for content matching: the post body lives in one block,
// away from the handle and timestamp decorations.
type ListingEntry struct {
	Identifier string
	Text       string
	Blocks     []string
}

// parseListing walks the profile page HTML and returns the posts it
// finds, newest first as rendered, capped at limit. A post is any
// <article> containing a permalink whose href matches the status
// pattern; its text is the article's flattened text content.
func parseListing(pageHTML string, statusPattern *regexp.Regexp, limit int) ([]ListingEntry, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}

	var entries []ListingEntry
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(entries) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "article" {
			if id := firstStatusID(n, statusPattern); id != "" {
				entry := ListingEntry{
					Identifier: id,
					Text:       NormalizeContent(textContent(n)),
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type != html.ElementNode {
						continue
					}
					if block := NormalizeContent(textContent(c)); block != "" {
						entry.Blocks = append(entry.Blocks, block)
					}
				}
				entries = append(entries, entry)
			}
			// Articles do not nest on the listing; skip the subtree.
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return entries, nil
}

func firstStatusID(n *html.Node, statusPattern *regexp.Regexp) string {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, attr := range n.Attr {
			if attr.Key != "href" {
				continue
			}
			if m := statusPattern.FindStringSubmatch(attr.Val); m != nil {
				return m[1]
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if id := firstStatusID(c, statusPattern); id != "" {
			return id
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
