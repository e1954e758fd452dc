package markdown

import (
	"fmt"
	neturl "net/url"
	"regexp"
	"strings"

	md "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	constants "multisource-digest/api/constants"
)

// ValidationSeverity represents the severity level of a validation issue
type ValidationSeverity int

const (
	SeverityWarning ValidationSeverity = iota
	SeverityError
)

// ValidationError represents a validation error with details and severity
type ValidationError struct {
	Field    string
	Message  string
	Details  string
	Severity ValidationSeverity
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation %s in %s: %s", e.severityString(), e.Field, e.Message)
}

func (e ValidationError) severityString() string {
	if e.Severity == SeverityWarning {
		return "warning"
	}
	return "error"
}

func newParser() *parser.Parser {
	return parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
}

var (
	spaces      = regexp.MustCompile(`[ \t]+`)
	doubleSlash = regexp.MustCompile(`//+`)
)

// PlainText renders markdown to speakable text: formatting markers, link
// targets and images are dropped, block elements become separate lines.
func PlainText(markdown string) string {
	doc := newParser().Parse([]byte(markdown))

	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
	}

	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.Image:
			return ast.SkipChildren
		case *ast.Text:
			if entering {
				b.Write(n.Literal)
			}
		case *ast.Code:
			if entering {
				b.Write(n.Literal)
			}
		case *ast.CodeBlock:
			if entering {
				newline()
				b.Write(n.Literal)
				newline()
			}
		case *ast.Softbreak, *ast.Hardbreak:
			if entering {
				b.WriteString(" ")
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if !entering {
				newline()
			}
		}
		return ast.GoToNext
	})

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// ToHTML renders markdown to an HTML fragment wrapped in a div.
func ToHTML(markdown string) string {
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	body := md.ToHTML([]byte(markdown), newParser(), renderer)
	return fmt.Sprintf("<div>%s</div>", body)
}

// NormalizeURL standardizes URL format for comparison. Scheme and host are
// lowercased, fragments and trailing slashes dropped. Paths and queries keep
// their case since video IDs are case-sensitive.
func NormalizeURL(raw string) string {
	original := raw
	u, err := neturl.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.TrimSpace(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = doubleSlash.ReplaceAllString(u.Path, "/")
	u.Path = strings.TrimSuffix(u.Path, "/")
	normalized := u.String()

	constants.Logger.Debug("URL normalization",
		"original", original,
		"normalized", normalized)
	return normalized
}

// ValidateSummaryLength checks that a summary fits the character budget and
// is not empty once rendered.
func ValidateSummaryLength(summary string, maxChars int) error {
	plain := PlainText(summary)
	if strings.TrimSpace(plain) == "" {
		return ValidationError{
			Field:    "length",
			Message:  "summary is empty",
			Details:  summary,
			Severity: SeverityError,
		}
	}

	n := len([]rune(summary))
	if n > maxChars {
		return ValidationError{
			Field:    "length",
			Message:  fmt.Sprintf("summary too long: %d characters", n),
			Details:  fmt.Sprintf("max allowed: %d, current: %d", maxChars, n),
			Severity: SeverityWarning,
		}
	}
	return nil
}

// Truncate clips s to at most max runes, adding "..." when clipped.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
