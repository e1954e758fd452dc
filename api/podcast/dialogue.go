package podcast

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
	retry "multisource-digest/api/retry"
)

var (
	ErrNoSegments = errors.New("failed to parse conversation")
	ErrNoDialogue = errors.New("podcast: no speaker lines in generated dialogue")
)

// labelLine matches a speaker line, tolerating markdown emphasis and list
// markers around the label.
var labelLine = regexp.MustCompile(`^[\s*_#>-]*(SPEAKER_[AB])[\s*_]*:[\s*_]*(.*)$`)

// Inferer is the inference unit the dialogue is written by.
type Inferer interface {
	Infer(ctx context.Context, prompt string, passages []string) (string, error)
}

// Generator writes a short two-speaker dialogue about a topic.
type Generator struct {
	llm   Inferer
	sleep func(ctx context.Context, d time.Duration) error
}

type GeneratorOption func(*Generator)

func WithGeneratorSleep(sleep func(ctx context.Context, d time.Duration) error) GeneratorOption {
	return func(g *Generator) { g.sleep = sleep }
}

func NewGenerator(llm Inferer, opts ...GeneratorOption) (*Generator, error) {
	if llm == nil {
		return nil, errors.New("podcast: inference unit must not be nil")
	}
	g := &Generator{llm: llm}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Generate returns the dialogue as newline-separated labelled lines.
func (g *Generator) Generate(ctx context.Context, topic string) (string, error) {
	return retry.Value(ctx, retry.Policy{
		Name:        "generate conversation",
		MaxAttempts: 3,
		Backoff:     retry.Exponential(time.Second, time.Second),
		Sleep:       g.sleep,
	}, func(ctx context.Context, _ int) (string, error) {
		reply, err := g.llm.Infer(ctx, DialoguePrompt(topic), nil)
		if err != nil {
			return "", err
		}
		dialogue := CleanDialogue(reply)
		if dialogue == "" {
			return "", ErrNoDialogue
		}
		return dialogue, nil
	})
}

// CleanDialogue keeps only labelled lines, with emphasis stripped from the
// labels.
func CleanDialogue(reply string) string {
	var lines []string
	for _, line := range strings.Split(reply, "\n") {
		m := labelLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		text := strings.TrimSpace(strings.Trim(m[2], "*_ "))
		if text == "" {
			continue
		}
		lines = append(lines, m[1]+": "+text)
	}
	return strings.Join(lines, "\n")
}

func DialoguePrompt(topic string) string {
	return fmt.Sprintf(`Write a short podcast conversation about the topic below between two speakers.

%s is a technology expert and the host. They ask insightful questions and comment on the content.
%s is an industry analyst and the guest. They answer with data-driven insights.

Requirements:
1. About 100 words in total.
2. Speakers alternate, starting with %s.
3. Each line is at most 20 words.
4. Every line starts with its label, exactly "%s:" or "%s:".
5. No title, no stage directions, no markdown.

Topic:
%s`, constants.SpeakerA, constants.SpeakerB, constants.SpeakerA, constants.SpeakerA, constants.SpeakerB, topic)
}

// Voices maps speakers to speech-unit voice IDs.
type Voices struct {
	A string
	B string
}

var DefaultVoices = Voices{A: constants.VoiceA, B: constants.VoiceB}

func (v Voices) voice(s models.Speaker) string {
	if s == models.SpeakerB {
		return v.B
	}
	return v.A
}

// Segment splits a dialogue into speaker turns using DefaultVoices.
func Segment(dialogue string) ([]models.ConversationSegment, error) {
	return DefaultVoices.Segment(dialogue)
}

// Segment splits a dialogue into speaker turns. Unlabelled lines continue
// the current turn; lines before the first label are dropped.
func (v Voices) Segment(dialogue string) ([]models.ConversationSegment, error) {
	var (
		segments []models.ConversationSegment
		speaker  models.Speaker
		text     []string
	)
	flush := func() {
		joined := strings.TrimSpace(strings.Join(text, " "))
		if speaker != "" && joined != "" {
			segments = append(segments, models.ConversationSegment{
				Speaker: speaker,
				Text:    joined,
				VoiceID: v.voice(speaker),
			})
		}
		text = nil
	}

	for _, line := range strings.Split(dialogue, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, constants.SpeakerA+":"):
			flush()
			speaker = models.SpeakerA
			text = []string{strings.TrimSpace(strings.TrimPrefix(line, constants.SpeakerA+":"))}
		case strings.HasPrefix(line, constants.SpeakerB+":"):
			flush()
			speaker = models.SpeakerB
			text = []string{strings.TrimSpace(strings.TrimPrefix(line, constants.SpeakerB+":"))}
		case speaker != "" && line != "":
			text = append(text, line)
		}
	}
	flush()

	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	return segments, nil
}
