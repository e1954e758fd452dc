package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	constants "multisource-digest/api/constants"
	markdown "multisource-digest/api/markdown"
	metrics "multisource-digest/api/metrics"
	models "multisource-digest/api/models"
	podcast "multisource-digest/api/podcast"
	processor "multisource-digest/api/processor"
	retry "multisource-digest/api/retry"
	router "multisource-digest/api/router"
)

// Cache is the response cache the workflow reads before and writes after
// every run.
type Cache interface {
	Get(ctx context.Context, prompt string) (*models.WorkflowResult, bool, error)
	Put(ctx context.Context, prompt string, result models.WorkflowResult) error
	EvictExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type DialogueGenerator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

type AudioProducer interface {
	Produce(ctx context.Context, segments []models.ConversationSegment, label string) (string, time.Duration, error)
}

type MindmapGenerator interface {
	Generate(ctx context.Context, topic string) ([]string, error)
}

type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// dispatchOrder is the order URL buckets are processed in.
var dispatchOrder = []models.Bucket{models.BucketPDF, models.BucketVideo, models.BucketWeb}

var (
	podcastPattern = keywordPattern(constants.PodcastKeywords)
	mindmapPattern = keywordPattern(constants.MindmapKeywords)
	directiveWords = regexp.MustCompile(`(?i)\b(please|create|generate|make|produce|build|draw|give|me|a|an|and|about|on|of|for|podcast|mindmap|mind\s+map)\b`)
)

// Workflow runs one prompt through classification, processing, the optional
// podcast and mindmap steps, and the response cache.
type Workflow struct {
	router     router.Router
	processors map[models.Bucket]processor.Processor

	cache         Cache
	retention     time.Duration
	cacheFailures bool

	dialogue DialogueGenerator
	audio    AudioProducer
	voices   podcast.Voices
	mindmap  MindmapGenerator
	uploader Uploader

	metrics    *metrics.Metrics
	routeSleep func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

type Option func(*Workflow)

func WithCache(c Cache, retention time.Duration, cacheFailures bool) Option {
	return func(w *Workflow) {
		w.cache = c
		w.retention = retention
		w.cacheFailures = cacheFailures
	}
}

func WithPodcast(dialogue DialogueGenerator, audio AudioProducer, voices podcast.Voices) Option {
	return func(w *Workflow) {
		w.dialogue = dialogue
		w.audio = audio
		w.voices = voices
	}
}

func WithMindmap(m MindmapGenerator) Option { return func(w *Workflow) { w.mindmap = m } }

func WithUploader(u Uploader) Option { return func(w *Workflow) { w.uploader = u } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *Workflow) { w.metrics = m } }

func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

func New(r router.Router, processors map[models.Bucket]processor.Processor, opts ...Option) (*Workflow, error) {
	if r == nil {
		return nil, errors.New("workflow: router must not be nil")
	}
	for _, b := range []models.Bucket{models.BucketPDF, models.BucketVideo, models.BucketWeb, models.BucketText} {
		if processors[b] == nil {
			return nil, fmt.Errorf("workflow: no processor for bucket %q", b)
		}
	}
	w := &Workflow{
		router:     r,
		processors: processors,
		retention:  constants.CacheRetention,
		voices:     podcast.DefaultVoices,
		routeSleep: func(context.Context, time.Duration) error { return nil },
		now:        time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if w.retention <= 0 {
		w.retention = constants.CacheRetention
	}
	return w, nil
}

// Run never fails: every problem ends up in the result's content or
// warnings.
func (w *Workflow) Run(ctx context.Context, prompt string) models.WorkflowResult {
	start := w.now()
	constants.Logger.Info("Workflow run started", "prompt", truncate(prompt, 120))

	if cached, ok := w.cached(ctx, prompt); ok {
		cached.Metadata.Status = models.StatusCached
		w.metrics.Run(models.StatusCached, w.now().Sub(start))
		return cached
	}

	var warnings []string
	rec, err := w.route(ctx, prompt, &warnings)
	if err != nil {
		result := models.WorkflowResult{
			Content: fmt.Sprintf("Failed to process input after %d attempts due to invalid JSON. Warnings: %s",
				constants.RouteAttempts, formatWarnings(warnings)),
			Metadata: models.Metadata{Warnings: warnings, Status: models.StatusFailed},
		}
		return w.finish(ctx, prompt, result, start)
	}

	warnings = append(warnings, rec.Errors...)
	aggregate, successes := w.dispatch(ctx, rec, &warnings)

	result := models.WorkflowResult{
		Content: aggregate,
		Metadata: models.Metadata{
			Status:  models.StatusOK,
			Routing: &rec,
		},
	}
	if aggregate == "" {
		result.Content = fmt.Sprintf("No content processed. Warnings: %s", formatWarnings(warnings))
	}

	source := podcastSource(successes, rec.RemainingText, aggregate)
	if podcastPattern.MatchString(rec.RemainingText) {
		w.producePodcast(ctx, source, &result, &warnings)
	}
	if mindmapPattern.MatchString(rec.RemainingText) {
		w.produceMindmap(ctx, source, &result, &warnings)
	}

	result.Metadata.Warnings = warnings
	return w.finish(ctx, prompt, result, start)
}

func (w *Workflow) cached(ctx context.Context, prompt string) (models.WorkflowResult, bool) {
	if w.cache == nil {
		return models.WorkflowResult{}, false
	}
	res, ok, err := w.cache.Get(ctx, prompt)
	if err != nil {
		constants.Logger.Warn("Cache lookup failed, continuing without cache", "error", err)
	}
	if err != nil || !ok {
		w.metrics.CacheMiss()
		return models.WorkflowResult{}, false
	}
	w.metrics.CacheHit()
	constants.Logger.Info("Returning cached response", "prompt", truncate(prompt, 120))
	return *res, true
}

func (w *Workflow) route(ctx context.Context, prompt string, warnings *[]string) (models.RoutingRecord, error) {
	return retry.Value(ctx, retry.Policy{
		Name:        "route prompt",
		MaxAttempts: constants.RouteAttempts,
		Backoff:     retry.None(),
		Sleep:       w.routeSleep,
	}, func(ctx context.Context, attempt int) (models.RoutingRecord, error) {
		rec, err := w.router.Route(ctx, prompt)
		if err == nil {
			return rec, nil
		}
		w.metrics.RouteFailure()
		if errors.Is(err, router.ErrMalformedRecord) {
			*warnings = append(*warnings, fmt.Sprintf("Attempt %d: Invalid JSON from JSON Corrector: %v", attempt, err))
		} else {
			*warnings = append(*warnings, fmt.Sprintf("Attempt %d: Failed to process URLs: %v", attempt, err))
		}
		return models.RoutingRecord{}, err
	})
}

// dispatch runs every reference through its processor and returns the
// aggregate plus the summaries that succeeded.
func (w *Workflow) dispatch(ctx context.Context, rec models.RoutingRecord, warnings *[]string) (string, []string) {
	var outputs, successes []string
	collect := func(b models.Bucket, ref string) {
		out := w.processors[b].Process(ctx, ref)
		w.metrics.Outcome(string(b), out.Failed)
		if out.Warning != "" {
			*warnings = append(*warnings, out.Warning)
		}
		summary := strings.TrimSpace(out.Summary)
		if summary == "" {
			return
		}
		outputs = append(outputs, summary)
		if !out.Failed {
			successes = append(successes, summary)
		}
	}

	for _, b := range dispatchOrder {
		for _, ref := range rec.URLs(b) {
			constants.Logger.Info("Processing reference", "bucket", b, "ref", ref)
			collect(b, ref)
		}
	}

	residual := strings.TrimSpace(rec.RemainingText)
	if residual != "" && !(rec.HasURLs() && incidental(residual)) {
		collect(models.BucketText, residual)
	} else if residual != "" {
		constants.Logger.Info("Skipping instruction text", "text", residual)
	}
	return strings.Join(outputs, "\n\n"), successes
}

func (w *Workflow) producePodcast(ctx context.Context, source string, result *models.WorkflowResult, warnings *[]string) {
	if w.dialogue == nil || w.audio == nil {
		*warnings = append(*warnings, "Podcast generation failed: podcast generation is not configured")
		return
	}
	if strings.TrimSpace(source) == "" {
		*warnings = append(*warnings, "Podcast generation skipped: no content to discuss")
		return
	}
	fail := func(err error) {
		constants.Logger.Warn("Podcast generation failed", "error", err)
		*warnings = append(*warnings, fmt.Sprintf("Podcast generation failed: %v", err))
	}

	topic := markdown.Truncate(markdown.PlainText(source), constants.MaxSpeechChars)
	dialogue, err := w.dialogue.Generate(ctx, topic)
	if err != nil {
		fail(err)
		return
	}
	segments, err := w.voices.Segment(dialogue)
	if err != nil {
		fail(err)
		return
	}
	path, length, err := w.audio.Produce(ctx, segments, "podcast")
	if err != nil {
		fail(err)
		return
	}
	result.Audio = path
	w.metrics.Podcast(length)

	if w.uploader == nil {
		return
	}
	url, err := w.uploader.Upload(ctx, path)
	if err != nil {
		constants.Logger.Warn("Podcast upload failed", "path", path, "error", err)
		*warnings = append(*warnings, fmt.Sprintf("Podcast upload failed: %v", err))
		return
	}
	result.Metadata.AudioURL = url
}

func (w *Workflow) produceMindmap(ctx context.Context, source string, result *models.WorkflowResult, warnings *[]string) {
	if w.mindmap == nil {
		*warnings = append(*warnings, "Mindmap generation failed: mindmap generation is not configured")
		return
	}
	if strings.TrimSpace(source) == "" {
		*warnings = append(*warnings, "Mindmap generation skipped: no content to map")
		return
	}
	artifacts, err := w.mindmap.Generate(ctx, markdown.Truncate(markdown.PlainText(source), constants.MaxSpeechChars))
	if err != nil {
		constants.Logger.Warn("Mindmap generation failed", "error", err)
		*warnings = append(*warnings, fmt.Sprintf("Mindmap generation failed: %v", err))
		return
	}
	result.Metadata.Artifacts = append(result.Metadata.Artifacts, artifacts...)
}

// finish writes the cache, sweeps expired entries and records the run.
func (w *Workflow) finish(ctx context.Context, prompt string, result models.WorkflowResult, start time.Time) models.WorkflowResult {
	if result.Metadata.Warnings == nil {
		result.Metadata.Warnings = []string{}
	}
	elapsed := w.now().Sub(start)
	result.Metadata.DurationMS = elapsed.Milliseconds()

	if w.cache != nil {
		if result.Metadata.Status != models.StatusFailed || w.cacheFailures {
			if err := w.cache.Put(ctx, prompt, result); err != nil {
				constants.Logger.Error("Failed to cache response", "error", err)
			}
		}
		n, err := w.cache.EvictExpired(ctx, w.retention)
		if err != nil {
			constants.Logger.Error("Cache eviction failed", "error", err)
		}
		w.metrics.Evicted(n)
	}

	w.metrics.Run(result.Metadata.Status, elapsed)
	constants.Logger.Info("Workflow run finished",
		"status", result.Metadata.Status,
		"warnings", len(result.Metadata.Warnings),
		"duration", elapsed.Seconds())
	return result
}

// incidental reports whether text left next to URLs is only an instruction
// about them: a podcast or mindmap directive, or too few words to summarize.
func incidental(text string) bool {
	if podcastPattern.MatchString(text) || mindmapPattern.MatchString(text) {
		return true
	}
	return len(strings.Fields(text)) < constants.MinTextWords
}

// podcastSource picks what a podcast or mindmap is about: the successful
// summaries, else the requested topic, else whatever the run produced
// (failure text included), else the bare remaining text.
func podcastSource(successes []string, remaining, aggregate string) string {
	if source := strings.Join(successes, "\n\n"); source != "" {
		return source
	}
	if topic := Topic(remaining); topic != "" {
		return topic
	}
	if aggregate != "" {
		return aggregate
	}
	return strings.TrimSpace(remaining)
}

// Topic strips directive words from text, leaving what the user wants the
// podcast or mindmap to be about.
func Topic(text string) string {
	return strings.Join(strings.Fields(directiveWords.ReplaceAllString(text, " ")), " ")
}

func keywordPattern(keywords []string) *regexp.Regexp {
	parts := make([]string, len(keywords))
	for i, kw := range keywords {
		parts[i] = strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}

func formatWarnings(warnings []string) string {
	quoted := make([]string, len(warnings))
	for i, w := range warnings {
		quoted[i] = "'" + w + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
