package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- Classify ----

func TestClassify_PDF(t *testing.T) {
	rec := Classify("summarize https://example.com/doc.pdf")

	require.Equal(t, []string{"https://example.com/doc.pdf"}, rec.PDFURLs)
	require.Empty(t, rec.YouTubeURLs)
	require.Empty(t, rec.WebURLs)
	require.Equal(t, "summarize", rec.RemainingText)
	require.NotNil(t, rec.Errors)
	require.Empty(t, rec.Errors)
}

func TestClassify_NoURLs(t *testing.T) {
	for _, in := range []string{"summarize the", "  summarize the  ", "what is the capital of France"} {
		rec := Classify(in)
		assert.Empty(t, rec.PDFURLs, in)
		assert.Empty(t, rec.YouTubeURLs, in)
		assert.Empty(t, rec.WebURLs, in)
		assert.Equal(t, []string{NoURLsFound}, rec.Errors, in)
	}
	require.Equal(t, "summarize the", Classify("  summarize the  ").RemainingText)
}

func TestClassify_MixedSources(t *testing.T) {
	in := "make a podcast from https://youtu.be/dQw4w9WgXcQ, www.example.org/post and docs.example.io/guide.PDF please"
	rec := Classify(in)

	require.Equal(t, []string{"https://youtu.be/dQw4w9WgXcQ"}, rec.YouTubeURLs)
	require.Equal(t, []string{"https://www.example.org/post"}, rec.WebURLs)
	require.Equal(t, []string{"https://docs.example.io/guide.PDF"}, rec.PDFURLs)
	require.Equal(t, "make a podcast from , and please", rec.RemainingText)
	require.Empty(t, rec.Errors)
}

func TestClassify_YouTubeWithoutIDIsWebpage(t *testing.T) {
	rec := Classify("look at https://www.youtube.com/feed/trending")
	require.Empty(t, rec.YouTubeURLs)
	require.Equal(t, []string{"https://www.youtube.com/feed/trending"}, rec.WebURLs)
}

func TestClassify_Deduplicates(t *testing.T) {
	rec := Classify("https://Example.com/a and https://example.com/a/ again")
	require.Equal(t, []string{"https://example.com/a"}, rec.WebURLs)
}

func TestClassify_WrappedURLs(t *testing.T) {
	for _, in := range []string{
		"summarize (https://example.com/doc.pdf)",
		`summarize "https://example.com/doc.pdf"`,
		"summarize <https://example.com/doc.pdf>",
		"summarize [https://example.com/doc.pdf].",
	} {
		rec := Classify(in)
		assert.Equal(t, []string{"https://example.com/doc.pdf"}, rec.PDFURLs, in)
		assert.Empty(t, rec.WebURLs, in)
		assert.Equal(t, "summarize", strings.TrimSuffix(rec.RemainingText, " ."), in)
	}
}

func TestClassify_MarkdownLink(t *testing.T) {
	rec := Classify("summarize [doc](https://example.com/doc.pdf) and [post](www.example.org/post)")
	require.Equal(t, []string{"https://example.com/doc.pdf"}, rec.PDFURLs)
	require.Equal(t, []string{"https://www.example.org/post"}, rec.WebURLs)
	require.Equal(t, "summarize doc and post", rec.RemainingText)
}

func TestClassify_GluedScheme(t *testing.T) {
	rec := Classify("see:https://example.com/post")
	require.Equal(t, []string{"https://example.com/post"}, rec.WebURLs)
	require.Equal(t, "see:", rec.RemainingText)

	rec = Classify("example.com/redirect?to=https://other.org/x")
	require.Equal(t, []string{"https://example.com/redirect?to=https://other.org/x"}, rec.WebURLs)
}

func TestClassify_IgnoresEmailAddresses(t *testing.T) {
	rec := Classify("email user@example.com about raft")
	require.Empty(t, rec.WebURLs)
	require.Equal(t, "email user@example.com about raft", rec.RemainingText)
	require.Equal(t, []string{NoURLsFound}, rec.Errors)

	_, ok := NormalizeURL("https://user:pw@example.com/x")
	require.False(t, ok)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"www.example.com":            "https://www.example.com",
		"www.google":                 "https://www.google.com",
		"http://localhost:8080/x":    "http://localhost.com:8080/x",
		"youtu.be/dQw4w9WgXcQ":       "https://youtu.be/dQw4w9WgXcQ",
		"HTTPS://example.com/A?b=C":  "https://example.com/A?b=C",
		"example.net/path/to/page":   "https://example.net/path/to/page",
	}
	for in, want := range cases {
		got, ok := NormalizeURL(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := NormalizeURL("ftp://example.com/file")
	require.False(t, ok)
	_, ok = NormalizeURL("   ")
	require.False(t, ok)
}

func TestVideoID(t *testing.T) {
	ok := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                     "dQw4w9WgXcQ",
		"https://m.youtube.com/shorts/dQw4w9WgXcQ":         "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":        "dQw4w9WgXcQ",
	}
	for in, want := range ok {
		id, found := VideoID(in)
		assert.True(t, found, in)
		assert.Equal(t, want, id, in)
	}
	for _, in := range []string{
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/channel/UC123",
		"https://vimeo.com/123456789",
	} {
		_, found := VideoID(in)
		assert.False(t, found, in)
	}
}

// ---- Repair ----

func TestRepair_WellFormedUnchanged(t *testing.T) {
	raw := `{"pdf_urls":["https://example.com/doc.pdf"],"youtube_urls":[],"web_urls":[],"remaining_text":"summarize","errors":[]}`
	rec, ok := Repair(raw, "ignored")
	require.True(t, ok)
	require.Equal(t, Classify("summarize https://example.com/doc.pdf"), rec)
}

func TestRepair_StripsFences(t *testing.T) {
	raw := "```json\n{\"pdf_urls\":[],\"youtube_urls\":[],\"web_urls\":[\"https://a.com\"],\"remaining_text\":\"x\",\"errors\":[]}\n```"
	rec, ok := Repair(raw, "")
	require.True(t, ok)
	require.Equal(t, []string{"https://a.com"}, rec.WebURLs)
	require.Equal(t, "x", rec.RemainingText)
}

func TestRepair_KeepsFirstCompleteFragment(t *testing.T) {
	raw := `Here you go: {"web_urls":["https://first.com"],"remaining_text":"one"} and {"web_urls":["https://second.com"]}`
	rec, ok := Repair(raw, "")
	require.True(t, ok)
	require.Equal(t, []string{"https://first.com"}, rec.WebURLs)
	require.Equal(t, "one", rec.RemainingText)
}

func TestRepair_BracesInsideStrings(t *testing.T) {
	raw := `{"remaining_text":"use {braces} and \"quotes\"","errors":"array"}`
	rec, ok := Repair(raw, "")
	require.True(t, ok)
	require.Equal(t, `use {braces} and "quotes"`, rec.RemainingText)
	require.Empty(t, rec.Errors)
}

func TestRepair_DefaultsMissingFields(t *testing.T) {
	rec, ok := Repair(`{"pdf_urls":["https://x.com/a.pdf"]}`, "original prompt")
	require.True(t, ok)
	require.Equal(t, "original prompt", rec.RemainingText)
	require.NotNil(t, rec.YouTubeURLs)
	require.NotNil(t, rec.WebURLs)
	require.NotNil(t, rec.Errors)
}

func TestRepair_ClosesTruncatedObject(t *testing.T) {
	rec, ok := Repair(`{"pdf_urls":[],"youtube_urls":[],"web_urls":["https://a.com"],"remaining_text":"cut off`, "")
	require.True(t, ok)
	require.Equal(t, []string{"https://a.com"}, rec.WebURLs)
	require.Equal(t, "cut off", rec.RemainingText)
}

func TestRepair_Fallback(t *testing.T) {
	for _, raw := range []string{"invalid", "", "{}", `{"foo": 1}`, "[1,2,3]"} {
		rec, ok := Repair(raw, " pass through ")
		assert.False(t, ok, raw)
		assert.Equal(t, Fallback("pass through"), rec, raw)
	}
}

func TestRepair_AlwaysHasAllFields(t *testing.T) {
	inputs := []string{
		"garbage", "```json\n{broken", `{"errors": 5}`, `{"web_urls": "https://single.com"}`,
		`{"pdf_urls":null,"remaining_text":null}`, "```\n```",
	}
	for _, raw := range inputs {
		rec, _ := Repair(raw, "p")
		b, err := json.Marshal(rec)
		require.NoError(t, err)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(b, &fields))
		for _, f := range recordFields {
			assert.Contains(t, fields, f, raw)
			assert.NotEqual(t, "null", string(fields[f]), raw)
		}
	}
}

func TestRepair_Idempotent(t *testing.T) {
	inputs := []string{
		`{"pdf_urls":["https://example.com/doc.pdf"],"youtube_urls":[],"web_urls":[],"remaining_text":"summarize","errors":[]}`,
		"```json\n{\"web_urls\":[\"https://a.com\"]}\n```",
		"not json at all",
		`{"remaining_text":"trunc`,
	}
	for _, raw := range inputs {
		once, _ := Repair(raw, "p")
		b, err := json.Marshal(once)
		require.NoError(t, err)
		twice, ok := Repair(string(b), "p")
		require.True(t, ok, raw)
		require.Equal(t, once, twice, raw)
	}
}

// ---- Routers ----

type fakeInferer struct {
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeInferer) Infer(_ context.Context, prompt string, _ []string) (string, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], err
	}
	return "", err
}

func TestLocal_Route(t *testing.T) {
	rec, err := Local{}.Route(context.Background(), "summarize the")
	require.NoError(t, err)
	require.Equal(t, []string{NoURLsFound}, rec.Errors)
}

func TestNewAssisted_NilInferer(t *testing.T) {
	_, err := NewAssisted(nil)
	require.Error(t, err)
}

func TestAssisted_RebucketsModelOutput(t *testing.T) {
	llm := &fakeInferer{replies: []string{
		"```json\n" + `{"pdf_urls":[],"youtube_urls":[],"web_urls":["youtu.be/dQw4w9WgXcQ","example.com/x.pdf"],"remaining_text":"summarize","errors":[]}` + "\n```",
	}}
	a, err := NewAssisted(llm)
	require.NoError(t, err)

	rec, err := a.Route(context.Background(), "summarize youtu.be/dQw4w9WgXcQ example.com/x.pdf")
	require.NoError(t, err)
	require.Equal(t, []string{"https://youtu.be/dQw4w9WgXcQ"}, rec.YouTubeURLs)
	require.Equal(t, []string{"https://example.com/x.pdf"}, rec.PDFURLs)
	require.Empty(t, rec.WebURLs)
	require.Len(t, llm.prompts, 1)
	require.Contains(t, llm.prompts[0], "summarize youtu.be/dQw4w9WgXcQ")
}

func TestAssisted_UsesCorrector(t *testing.T) {
	llm := &fakeInferer{replies: []string{
		"I found a pdf!",
		`{"pdf_urls":["https://example.com/doc.pdf"],"youtube_urls":[],"web_urls":[],"remaining_text":"summarize","errors":[]}`,
	}}
	a, _ := NewAssisted(llm)

	rec, err := a.Route(context.Background(), "summarize https://example.com/doc.pdf")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/doc.pdf"}, rec.PDFURLs)
	require.Len(t, llm.prompts, 2)
	require.Contains(t, llm.prompts[1], "I found a pdf!")
}

func TestAssisted_Malformed(t *testing.T) {
	llm := &fakeInferer{replies: []string{"nope", "still nope"}}
	a, _ := NewAssisted(llm)

	rec, err := a.Route(context.Background(), "summarize the")
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.Equal(t, Fallback("summarize the"), rec)
}

func TestAssisted_CorrectorGivesUp(t *testing.T) {
	llm := &fakeInferer{replies: []string{
		"nope",
		`{"pdf_urls":[],"youtube_urls":[],"web_urls":[],"remaining_text":"","errors":["Failed to correct JSON"]}`,
	}}
	a, _ := NewAssisted(llm)

	_, err := a.Route(context.Background(), "summarize the")
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestAssisted_NoResponse(t *testing.T) {
	a, _ := NewAssisted(&fakeInferer{errs: []error{errors.New("503")}})
	_, err := a.Route(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoResponse)

	a, _ = NewAssisted(&fakeInferer{replies: []string{"   "}})
	_, err = a.Route(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoResponse)
}

var _ Router = (*Assisted)(nil)
var _ Router = Local{}
