package router

import (
	"net/url"
	"regexp"
	"strings"

	markdown "multisource-digest/api/markdown"
	models "multisource-digest/api/models"
)

const NoURLsFound = "No valid URLs found"

var (
	urlPattern = regexp.MustCompile(`(?:https?://|www\.)[^\s<>']+|[^\s<>']+\.(?:com|org|net|edu|gov|io)[^\s<>']*`)
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\((\S+?)\)`)
	videoID    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	schemeRe   = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
)

const (
	trailingPunct = `.,;:!?)]}"`
	openers       = `("[<{`
	closers       = `)"]>}`
)

// Classify extracts URLs from text, buckets them and returns the text with
// the URLs removed. A prompt without URLs is not an error; it is reported in
// the record's Errors and the caller proceeds on RemainingText alone.
// Markdown links keep their label in the remaining text.
func Classify(text string) models.RoutingRecord {
	rec := models.NewRoutingRecord()
	seen := make(map[string]bool)
	text = mdLink.ReplaceAllString(text, "${1} ${2}")

	var rest strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start < last {
			start = last
		}
		for start < end && strings.ContainsRune(openers, rune(text[start])) {
			start++
		}
		start += schemeOffset(text[start:end])
		for end > start && strings.ContainsRune(trailingPunct, rune(text[end-1])) {
			end--
		}
		if end == start || isEmail(text[start:end]) {
			continue
		}

		prefix := text[last:start]
		var closer byte
		if start > last {
			if i := strings.IndexByte(openers, text[start-1]); i >= 0 {
				closer = closers[i]
				prefix = prefix[:len(prefix)-1]
			}
		}
		rest.WriteString(prefix)
		rest.WriteString(" ")
		last = end
		if closer != 0 && end < len(text) && text[end] == closer {
			last = end + 1
		}

		normalized, ok := NormalizeURL(text[start:end])
		if !ok {
			continue
		}
		key := markdown.NormalizeURL(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		addToBucket(&rec, normalized)
	}
	rest.WriteString(text[last:])

	rec.RemainingText = strings.Join(strings.Fields(rest.String()), " ")
	if !rec.HasURLs() {
		rec.Errors = append(rec.Errors, NoURLsFound)
	}
	return rec
}

// schemeOffset returns where the scheme starts when a candidate has text
// glued in front of it, as in "see:https://...".
func schemeOffset(s string) int {
	i := strings.Index(s, "://")
	if i <= 0 {
		return 0
	}
	j := i
	for j > 0 && isLetter(s[j-1]) {
		j--
	}
	if strings.ContainsAny(s[:j], "/?.=") {
		return 0
	}
	return j
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

// isEmail reports whether a scheme-less candidate is an address like
// user@example.com rather than a host.
func isEmail(candidate string) bool {
	if schemeRe.MatchString(candidate) {
		return false
	}
	host, _, _ := strings.Cut(candidate, "/")
	return strings.Contains(host, "@")
}

// NormalizeURL adds a missing scheme and a missing top-level domain.
func NormalizeURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if !schemeRe.MatchString(s) {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)

	host := strings.ToLower(u.Hostname())
	if host != "youtu.be" && missingTLD(host) {
		if port := u.Port(); port != "" {
			u.Host = u.Hostname() + ".com:" + port
		} else {
			u.Host = u.Hostname() + ".com"
		}
	}
	return u.String(), true
}

func missingTLD(host string) bool {
	labels := strings.Split(host, ".")
	if len(labels) == 1 {
		return true
	}
	return len(labels) == 2 && labels[0] == "www"
}

// Kind classifies an already normalized URL.
func Kind(rawURL string) models.Bucket {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.BucketWeb
	}
	if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return models.BucketPDF
	}
	if _, ok := VideoID(rawURL); ok {
		return models.BucketVideo
	}
	return models.BucketWeb
}

// VideoID returns the YouTube video identifier carried by rawURL.
func VideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, ".youtu.be"):
		id = segments[0]
	case strings.Contains(host, "youtube.com"):
		switch segments[0] {
		case "watch":
			id = u.Query().Get("v")
		case "shorts", "embed", "live", "v":
			if len(segments) > 1 {
				id = segments[1]
			}
		}
	default:
		return "", false
	}
	if !videoID.MatchString(id) {
		return "", false
	}
	return id, true
}

func addToBucket(rec *models.RoutingRecord, u string) {
	switch Kind(u) {
	case models.BucketPDF:
		rec.PDFURLs = append(rec.PDFURLs, u)
	case models.BucketVideo:
		rec.YouTubeURLs = append(rec.YouTubeURLs, u)
	default:
		rec.WebURLs = append(rec.WebURLs, u)
	}
}

// Rebucket re-normalizes and re-classifies every URL of rec with the local
// rules, keeping RemainingText and Errors.
func Rebucket(rec models.RoutingRecord) models.RoutingRecord {
	out := models.NewRoutingRecord()
	out.RemainingText = strings.TrimSpace(rec.RemainingText)
	out.Errors = append(out.Errors, rec.Errors...)

	seen := make(map[string]bool)
	all := append(append(append([]string{}, rec.PDFURLs...), rec.YouTubeURLs...), rec.WebURLs...)
	for _, raw := range all {
		normalized, ok := NormalizeURL(raw)
		if !ok {
			out.Errors = append(out.Errors, "Invalid URL dropped: "+raw)
			continue
		}
		key := markdown.NormalizeURL(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		addToBucket(&out, normalized)
	}
	return out
}
