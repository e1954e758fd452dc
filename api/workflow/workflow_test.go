package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cache "multisource-digest/api/cache"
	metrics "multisource-digest/api/metrics"
	models "multisource-digest/api/models"
	podcast "multisource-digest/api/podcast"
	processor "multisource-digest/api/processor"
	router "multisource-digest/api/router"
)

type fakeProcessor struct {
	bucket models.Bucket
	fail   bool
	refs   []string
}

func (f *fakeProcessor) Process(_ context.Context, ref string) models.Outcome {
	f.refs = append(f.refs, ref)
	if f.fail {
		return models.Outcome{
			Summary: processor.Placeholder(ref, "unreachable"),
			Failed:  true,
			Warning: "Failed to process " + ref,
		}
	}
	return models.Outcome{Summary: string(f.bucket) + " summary of " + ref}
}

type fakeRouter struct {
	errs  []error
	calls int
}

func (f *fakeRouter) Route(_ context.Context, text string) (models.RoutingRecord, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return router.Fallback(text), f.errs[i]
	}
	return router.Classify(text), nil
}

type fakeDialogue struct {
	topics []string
	reply  string
	err    error
}

func (f *fakeDialogue) Generate(_ context.Context, topic string) (string, error) {
	f.topics = append(f.topics, topic)
	return f.reply, f.err
}

type fakeAudio struct {
	segments []models.ConversationSegment
	err      error
}

func (f *fakeAudio) Produce(_ context.Context, segments []models.ConversationSegment, label string) (string, time.Duration, error) {
	f.segments = segments
	if f.err != nil {
		return "", 0, f.err
	}
	return "/out/" + label + ".wav", 3 * time.Second, nil
}

type fakeMindmap struct {
	topics []string
}

func (f *fakeMindmap) Generate(_ context.Context, topic string) ([]string, error) {
	f.topics = append(f.topics, topic)
	return []string{"/out/x_mindmap.dot"}, nil
}

type fakeUploader struct{ err error }

func (f *fakeUploader) Upload(_ context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/" + filepath.Base(path), nil
}

type fakeCache struct {
	entries map[string]models.WorkflowResult
	puts    int
	evicts  int
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]models.WorkflowResult{}} }

func (f *fakeCache) Get(_ context.Context, prompt string) (*models.WorkflowResult, bool, error) {
	r, ok := f.entries[prompt]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (f *fakeCache) Put(_ context.Context, prompt string, result models.WorkflowResult) error {
	f.puts++
	f.entries[prompt] = result
	return nil
}

func (f *fakeCache) EvictExpired(context.Context, time.Duration) (int64, error) {
	f.evicts++
	return 0, nil
}

type fixture struct {
	procs map[models.Bucket]*fakeProcessor
}

func newFixture() fixture {
	procs := map[models.Bucket]*fakeProcessor{}
	for _, b := range []models.Bucket{models.BucketPDF, models.BucketVideo, models.BucketWeb, models.BucketText} {
		procs[b] = &fakeProcessor{bucket: b}
	}
	return fixture{procs: procs}
}

func (f fixture) processors() map[models.Bucket]processor.Processor {
	out := make(map[models.Bucket]processor.Processor, len(f.procs))
	for b, p := range f.procs {
		out[b] = p
	}
	return out
}

const dialogue = "SPEAKER_A: Hi\nSPEAKER_B: Hello\nthere\nSPEAKER_A: Bye"

func TestNew_RequiresEveryProcessor(t *testing.T) {
	f := newFixture()
	procs := f.processors()
	delete(procs, models.BucketVideo)
	_, err := New(router.Local{}, procs)
	require.Error(t, err)

	_, err = New(nil, f.processors())
	require.Error(t, err)
}

func TestRun_SinglePDF(t *testing.T) {
	f := newFixture()
	d := &fakeDialogue{reply: dialogue}
	w, err := New(router.Local{}, f.processors(), WithPodcast(d, &fakeAudio{}, podcast.DefaultVoices))
	require.NoError(t, err)

	res := w.Run(context.Background(), "summarize https://example.com/doc.pdf")
	require.Equal(t, []string{"https://example.com/doc.pdf"}, f.procs[models.BucketPDF].refs)
	require.Empty(t, f.procs[models.BucketVideo].refs)
	require.Empty(t, f.procs[models.BucketWeb].refs)
	require.Empty(t, f.procs[models.BucketText].refs, "a lone instruction word next to a URL is not summarized")
	require.Equal(t, "pdf summary of https://example.com/doc.pdf", res.Content)
	require.Empty(t, res.Audio)
	require.Empty(t, d.topics)
	require.Equal(t, models.StatusOK, res.Metadata.Status)
	require.Empty(t, res.Metadata.Warnings)
}

type fakeInferer struct{ reply string }

func (f *fakeInferer) Infer(context.Context, string, []string) (string, error) { return f.reply, nil }

func TestRun_SinglePDFWithTextProcessor(t *testing.T) {
	f := newFixture()
	procs := f.processors()
	text, err := processor.NewText(&fakeInferer{reply: "unused"})
	require.NoError(t, err)
	procs[models.BucketText] = text

	w, err := New(router.Local{}, procs)
	require.NoError(t, err)

	res := w.Run(context.Background(), "summarize https://example.com/doc.pdf")
	require.Equal(t, "pdf summary of https://example.com/doc.pdf", res.Content)
	require.NotContains(t, res.Content, processor.TooShort)
}

func TestRun_QuestionNextToURLIsAnswered(t *testing.T) {
	f := newFixture()
	w, err := New(router.Local{}, f.processors())
	require.NoError(t, err)

	res := w.Run(context.Background(), "how does leader election work https://example.com/post")
	require.Equal(t, []string{"how does leader election work"}, f.procs[models.BucketText].refs)
	require.Equal(t, "web summary of https://example.com/post\n\ntext summary of how does leader election work", res.Content)
}

func TestRun_TextOnly(t *testing.T) {
	f := newFixture()
	w, err := New(router.Local{}, f.processors())
	require.NoError(t, err)

	res := w.Run(context.Background(), "summarize the")
	require.Contains(t, res.Metadata.Warnings, router.NoURLsFound)
	require.Equal(t, []string{"summarize the"}, f.procs[models.BucketText].refs)
	require.Equal(t, "text summary of summarize the", res.Content)
}

func TestRun_PodcastFromTopicWhenEverythingFails(t *testing.T) {
	f := newFixture()
	f.procs[models.BucketWeb].fail = true
	d := &fakeDialogue{reply: dialogue}
	audio := &fakeAudio{}
	w, err := New(router.Local{}, f.processors(),
		WithPodcast(d, audio, podcast.Voices{A: "va", B: "vb"}),
		WithUploader(&fakeUploader{}))
	require.NoError(t, err)

	res := w.Run(context.Background(), "make a podcast about caching https://example.com/post")
	require.Empty(t, f.procs[models.BucketText].refs, "directive text is not summarized when URLs exist")
	require.Contains(t, res.Content, "[No summary available for https://example.com/post")
	require.Contains(t, res.Metadata.Warnings, "Failed to process https://example.com/post")

	require.Equal(t, []string{"caching"}, d.topics)
	require.Equal(t, []models.ConversationSegment{
		{Speaker: models.SpeakerA, Text: "Hi", VoiceID: "va"},
		{Speaker: models.SpeakerB, Text: "Hello there", VoiceID: "vb"},
		{Speaker: models.SpeakerA, Text: "Bye", VoiceID: "va"},
	}, audio.segments)
	require.Equal(t, "/out/podcast.wav", res.Audio)
	require.Equal(t, "https://cdn.example.com/podcast.wav", res.Metadata.AudioURL)
}

func TestRun_BarePodcastKeywordFallsBackToAggregate(t *testing.T) {
	f := newFixture()
	f.procs[models.BucketWeb].fail = true
	d := &fakeDialogue{reply: dialogue}
	w, err := New(router.Local{}, f.processors(), WithPodcast(d, &fakeAudio{}, podcast.DefaultVoices))
	require.NoError(t, err)

	res := w.Run(context.Background(), "podcast https://example.com/post")
	require.Len(t, d.topics, 1)
	require.Contains(t, d.topics[0], "https://example.com/post")
	require.Equal(t, "/out/podcast.wav", res.Audio)
	for _, warning := range res.Metadata.Warnings {
		require.NotContains(t, warning, "Podcast generation")
	}
}

func TestPodcastSource(t *testing.T) {
	require.Equal(t, "a\n\nb", podcastSource([]string{"a", "b"}, "podcast about raft", "agg"))
	require.Equal(t, "raft", podcastSource(nil, "podcast about raft", "agg"))
	require.Equal(t, "agg", podcastSource(nil, "podcast", "agg"))
	require.Equal(t, "podcast", podcastSource(nil, " podcast ", ""))
}

func TestRun_PodcastUsesSuccessfulSummaries(t *testing.T) {
	f := newFixture()
	f.procs[models.BucketVideo].fail = true
	d := &fakeDialogue{reply: dialogue}
	w, err := New(router.Local{}, f.processors(), WithPodcast(d, &fakeAudio{}, podcast.DefaultVoices))
	require.NoError(t, err)

	res := w.Run(context.Background(), "podcast https://example.com/a.pdf https://youtu.be/dQw4w9WgXcQ")
	require.Len(t, d.topics, 1)
	require.Contains(t, d.topics[0], "pdf summary of")
	require.NotContains(t, d.topics[0], "No summary available")
	require.Contains(t, res.Content, "No summary available")
	require.Equal(t, "/out/podcast.wav", res.Audio)
}

func TestRun_PodcastFailuresBecomeWarnings(t *testing.T) {
	for name, tc := range map[string]struct {
		dialogue *fakeDialogue
		audio    *fakeAudio
		want     string
	}{
		"dialogue": {&fakeDialogue{err: errors.New("llm down")}, &fakeAudio{}, "Podcast generation failed: llm down"},
		"segments": {&fakeDialogue{reply: "no labels"}, &fakeAudio{}, "Podcast generation failed: failed to parse conversation"},
		"audio":    {&fakeDialogue{reply: dialogue}, &fakeAudio{err: errors.New("quota")}, "Podcast generation failed: quota"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			w, err := New(router.Local{}, f.processors(), WithPodcast(tc.dialogue, tc.audio, podcast.DefaultVoices))
			require.NoError(t, err)

			res := w.Run(context.Background(), "a podcast on https://example.com/post")
			require.Empty(t, res.Audio)
			require.Contains(t, res.Metadata.Warnings, tc.want)
			require.Contains(t, res.Content, "web summary of https://example.com/post")
		})
	}
}

func TestRun_UploadFailureKeepsLocalAudio(t *testing.T) {
	f := newFixture()
	w, err := New(router.Local{}, f.processors(),
		WithPodcast(&fakeDialogue{reply: dialogue}, &fakeAudio{}, podcast.DefaultVoices),
		WithUploader(&fakeUploader{err: errors.New("access denied")}))
	require.NoError(t, err)

	res := w.Run(context.Background(), "podcast https://example.com/post")
	require.Equal(t, "/out/podcast.wav", res.Audio)
	require.Empty(t, res.Metadata.AudioURL)
	require.Contains(t, res.Metadata.Warnings, "Podcast upload failed: access denied")
}

func TestRun_Mindmap(t *testing.T) {
	f := newFixture()
	m := &fakeMindmap{}
	w, err := New(router.Local{}, f.processors(), WithMindmap(m))
	require.NoError(t, err)

	res := w.Run(context.Background(), "draw a mind map of https://example.com/post")
	require.Len(t, m.topics, 1)
	require.Contains(t, m.topics[0], "web summary of")
	require.Equal(t, []string{"/out/x_mindmap.dot"}, res.Metadata.Artifacts)
}

func TestRun_RoutingExhausted(t *testing.T) {
	f := newFixture()
	malformed := router.ErrMalformedRecord
	r := &fakeRouter{errs: []error{malformed, errors.New("timeout"), malformed}}
	c := newFakeCache()
	w, err := New(r, f.processors(), WithCache(c, time.Hour, false))
	require.NoError(t, err)

	res := w.Run(context.Background(), "summarize https://example.com/doc.pdf")
	require.Equal(t, 3, r.calls)
	require.Equal(t, models.StatusFailed, res.Metadata.Status)
	require.Len(t, res.Metadata.Warnings, 3)
	require.True(t, strings.HasPrefix(res.Metadata.Warnings[0], "Attempt 1: Invalid JSON from JSON Corrector: "))
	require.True(t, strings.HasPrefix(res.Metadata.Warnings[1], "Attempt 2: Failed to process URLs: timeout"))
	require.True(t, strings.HasPrefix(res.Content, "Failed to process input after 3 attempts due to invalid JSON. Warnings: ['Attempt 1: "))
	require.Empty(t, f.procs[models.BucketPDF].refs)

	require.Zero(t, c.puts, "terminal failures are not cached")
	require.Equal(t, 1, c.evicts)
}

func TestRun_RoutingRecovers(t *testing.T) {
	f := newFixture()
	r := &fakeRouter{errs: []error{router.ErrNoResponse}}
	w, err := New(r, f.processors())
	require.NoError(t, err)

	res := w.Run(context.Background(), "https://example.com/post")
	require.Equal(t, 2, r.calls)
	require.Equal(t, models.StatusOK, res.Metadata.Status)
	require.Len(t, res.Metadata.Warnings, 1)
	require.Contains(t, res.Metadata.Warnings[0], "Attempt 1: Failed to process URLs")
	require.Equal(t, "web summary of https://example.com/post", res.Content)
}

func TestRun_CachesFailuresWhenEnabled(t *testing.T) {
	f := newFixture()
	c := newFakeCache()
	r := &fakeRouter{errs: []error{router.ErrMalformedRecord, router.ErrMalformedRecord, router.ErrMalformedRecord}}
	w, err := New(r, f.processors(), WithCache(c, time.Hour, true))
	require.NoError(t, err)

	w.Run(context.Background(), "x")
	require.Equal(t, 1, c.puts)
}

func TestRun_NothingProcessed(t *testing.T) {
	f := newFixture()
	w, err := New(router.Local{}, f.processors())
	require.NoError(t, err)

	res := w.Run(context.Background(), "   ")
	require.Equal(t, "No content processed. Warnings: ['No valid URLs found']", res.Content)
	require.Empty(t, f.procs[models.BucketText].refs)
}

func TestRun_CacheHitSkipsWork(t *testing.T) {
	store, err := cache.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	c, err := cache.New(store)
	require.NoError(t, err)
	defer c.Close()

	m := metrics.New()
	f := newFixture()
	w, err := New(router.Local{}, f.processors(), WithCache(c, time.Hour, false), WithMetrics(m))
	require.NoError(t, err)

	first := w.Run(context.Background(), "summarize https://example.com/doc.pdf")
	require.Equal(t, models.StatusOK, first.Metadata.Status)
	require.Len(t, f.procs[models.BucketPDF].refs, 1)

	second := w.Run(context.Background(), "summarize https://example.com/doc.pdf")
	require.Equal(t, models.StatusCached, second.Metadata.Status)
	require.Equal(t, first.Content, second.Content)
	require.Len(t, f.procs[models.BucketPDF].refs, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `multisource_cache_lookups_total{result="hit"} 1`)
	require.Contains(t, body, `multisource_cache_lookups_total{result="miss"} 1`)
	require.Contains(t, body, `multisource_runs_total{status="cached"} 1`)
}

func TestTopic(t *testing.T) {
	require.Equal(t, "caching", Topic("Make a podcast about caching"))
	require.Equal(t, "raft consensus", Topic("please create a mind map of raft consensus"))
	require.Equal(t, "", Topic("podcast"))
}

func TestKeywordsMatchWholeWords(t *testing.T) {
	require.True(t, podcastPattern.MatchString("A Podcast, please"))
	require.False(t, podcastPattern.MatchString("podcasting tips"))
	require.True(t, mindmapPattern.MatchString("a mind  map"))
	require.True(t, mindmapPattern.MatchString("mindmap"))
}
