package scrape

import (
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// mediaHost serves post images
const mediaHost = "pbs.twimg.com"

// extraction is what a status page yields
type extraction struct {
	MediaURLs    []string
	AuthorHandle string
	// HasPost is true when the page carried metadata for a post, as opposed
	// to an empty application shell
	HasPost bool
}

// extract walks the document collecting media and post metadata for id
func extract(r io.Reader, id string) (*extraction, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	out := &extraction{}
	seen := map[string]bool{}
	add := func(raw string) {
		if u, ok := normalizeMediaURL(raw); ok && !seen[u] {
			seen[u] = true
			out.MediaURLs = append(out.MediaURLs, u)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				key := attr(n, "property")
				if key == "" {
					key = attr(n, "name")
				}
				content := attr(n, "content")
				switch key {
				case "og:image", "twitter:image", "twitter:image:src":
					add(content)
				case "og:url":
					out.noteURL(content, id)
				case "og:title", "twitter:title":
					if content != "" {
						out.HasPost = true
					}
				}
			case "link":
				if attr(n, "rel") == "canonical" {
					out.noteURL(attr(n, "href"), id)
				}
			case "img":
				add(attr(n, "src"))
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(out.MediaURLs) > 0 {
		out.HasPost = true
	}
	return out, nil
}

// noteURL records the author from a /{handle}/status/{id} URL
func (e *extraction) noteURL(raw, id string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 3 && parts[1] == "status" && parts[2] == id {
		e.HasPost = true
		if parts[0] != "i" && e.AuthorHandle == "" {
			e.AuthorHandle = parts[0]
		}
	}
}

// normalizeMediaURL accepts post media on the image CDN and rewrites
// ?format=jpg&name=small style URLs to a plain path with an extension.
func normalizeMediaURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host != mediaHost || !strings.HasPrefix(u.Path, "/media/") {
		return "", false
	}
	p := u.Path
	if path.Ext(p) == "" {
		if f := u.Query().Get("format"); f != "" {
			p += "." + f
		}
	}
	return "https://" + mediaHost + p, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
