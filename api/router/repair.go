package router

import (
	"encoding/json"
	"strings"

	models "multisource-digest/api/models"
)

const FailedToCorrect = "Failed to correct JSON"

var recordFields = []string{"pdf_urls", "youtube_urls", "web_urls", "remaining_text", "errors"}

// Repair turns raw model output into a routing record. It strips code
// fences, keeps the first complete JSON object and defaults missing fields.
// When nothing usable is found it returns the fallback record and false;
// the fallback carries passthrough as its remaining text.
func Repair(raw, passthrough string) (models.RoutingRecord, bool) {
	body := stripFences(raw)

	if obj, ok := firstObject(body); ok {
		if rec, ok := decodeRecord(obj, passthrough); ok {
			return rec, true
		}
	}
	if obj, ok := closeTruncated(body); ok {
		if rec, ok := decodeRecord(obj, passthrough); ok {
			return rec, true
		}
	}
	return Fallback(passthrough), false
}

// Fallback is the minimal valid record used when repair is impossible.
func Fallback(passthrough string) models.RoutingRecord {
	rec := models.NewRoutingRecord()
	rec.RemainingText = strings.TrimSpace(passthrough)
	rec.Errors = []string{FailedToCorrect}
	return rec
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexAny(s, "\n{"); i >= 0 && !strings.Contains(s[:i], "}") {
			s = s[i:]
		}
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "```")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "json") {
		s = strings.TrimSpace(s[4:])
	}
	return s
}

// firstObject returns the first balanced, valid JSON object in s.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace finds the brace closing the one at start, skipping string
// contents and escapes.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// closeTruncated closes unterminated strings, arrays and objects of an
// object cut off mid-stream.
func closeTruncated(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return "", false
			}
		}
	}
	if len(stack) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(s[start:], " \t\r\n"))
	if inString {
		if escaped {
			b.WriteString(`\`)
		}
		b.WriteString(`"`)
	}
	fixed := strings.TrimRight(b.String(), ",")
	b.Reset()
	b.WriteString(fixed)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	out := b.String()
	if !json.Valid([]byte(out)) {
		return "", false
	}
	return out, true
}

func decodeRecord(obj, passthrough string) (models.RoutingRecord, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return models.RoutingRecord{}, false
	}
	known := 0
	for _, f := range recordFields {
		if _, ok := fields[f]; ok {
			known++
		}
	}
	if known == 0 {
		return models.RoutingRecord{}, false
	}

	rec := models.NewRoutingRecord()
	rec.PDFURLs = stringList(fields["pdf_urls"])
	rec.YouTubeURLs = stringList(fields["youtube_urls"])
	rec.WebURLs = stringList(fields["web_urls"])
	rec.Errors = stringList(fields["errors"])

	if raw, ok := fields["remaining_text"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			rec.RemainingText = strings.TrimSpace(text)
		}
	} else {
		rec.RemainingText = strings.TrimSpace(passthrough)
	}
	return rec, true
}

// stringList accepts an array (non-string items skipped), a single string or
// null, and always returns a non-nil slice.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		// "array" is the placeholder from the record template, not a value.
		if s = strings.TrimSpace(s); s != "" && s != "array" {
			out = append(out, s)
		}
	}
	return out
}
