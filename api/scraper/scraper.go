package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	constants "multisource-digest/api/constants"
)

const (
	maxPageBytes = 8 << 20
	userAgent    = "Mozilla/5.0 (compatible; multisource-digest/1.0)"
)

// Pages fetches a webpage and returns its readable text.
type Pages struct {
	client *http.Client
}

func NewPages(client *http.Client) *Pages {
	if client == nil {
		client = &http.Client{Timeout: constants.ScrapeTimeout}
	}
	return &Pages{client: client}
}

// Fetch returns the main text of the page at rawURL. Readability extraction
// is tried first; when it yields too little text the whole document body is
// walked instead.
func (p *Pages) Fetch(ctx context.Context, rawURL string) (string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", rawURL, err)
	}

	body, contentType, err := get(ctx, p.client, rawURL)
	if err != nil {
		return "", err
	}

	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "text/plain" {
		return collapse(string(body)), nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		text := collapse(article.TextContent)
		if len(text) >= constants.MinContentChars {
			if title := strings.TrimSpace(article.Title); title != "" {
				return title + "\n\n" + text, nil
			}
			return text, nil
		}
	} else {
		constants.Logger.Warn("Readability extraction failed, falling back to full text", "url", rawURL, "error", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML from %s: %w", rawURL, err)
	}
	var b strings.Builder
	extractText(doc, &b)
	return collapse(b.String()), nil
}

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "footer": true, "header": true, "svg": true, "iframe": true,
}

func extractText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && skipped[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("timeout fetching %s: %w", rawURL, err)
		}
		return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch %s: status code %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
