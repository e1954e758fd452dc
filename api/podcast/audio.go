package podcast

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
	retry "multisource-digest/api/retry"
)

var ErrNoAudio = errors.New("podcast: no valid audio segments")

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SpeechUnit converts text to 16-bit mono PCM or WAV audio.
type SpeechUnit interface {
	Speak(ctx context.Context, text, voiceID string) ([]byte, error)
	SampleRate() int
}

// Synthesizer turns conversation segments into a single WAV file.
type Synthesizer struct {
	speech    SpeechUnit
	outputDir string
	sleep     func(ctx context.Context, d time.Duration) error
}

type SynthesizerOption func(*Synthesizer)

func WithSynthesizerSleep(sleep func(ctx context.Context, d time.Duration) error) SynthesizerOption {
	return func(s *Synthesizer) { s.sleep = sleep }
}

func NewSynthesizer(speech SpeechUnit, outputDir string, opts ...SynthesizerOption) (*Synthesizer, error) {
	if speech == nil {
		return nil, errors.New("podcast: speech unit must not be nil")
	}
	if strings.TrimSpace(outputDir) == "" {
		outputDir = constants.OutputDir
	}
	s := &Synthesizer{speech: speech, outputDir: outputDir}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SynthesizeSegment speaks one segment, retrying with a fixed backoff.
// An empty payload counts as a failed attempt.
func (s *Synthesizer) SynthesizeSegment(ctx context.Context, text, voiceID string) ([]byte, error) {
	audio, err := retry.Value(ctx, retry.Policy{
		Name:        "synthesize segment",
		MaxAttempts: constants.SpeechAttempts,
		Backoff:     retry.Fixed(constants.SpeechBackoff),
		Sleep:       s.sleep,
	}, func(ctx context.Context, _ int) ([]byte, error) {
		audio, err := s.speech.Speak(ctx, text, voiceID)
		if err != nil {
			return nil, err
		}
		if len(audio) == 0 {
			return nil, errors.New("empty audio response")
		}
		return audio, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio for voice %s: %w", voiceID, err)
	}
	return audio, nil
}

// Produce synthesizes every segment in order and combines the clips.
func (s *Synthesizer) Produce(ctx context.Context, segments []models.ConversationSegment, label string) (string, time.Duration, error) {
	clips := make([][]byte, 0, len(segments))
	for i, seg := range segments {
		constants.Logger.Info("Generating audio", "segment", i, "speaker", seg.Speaker, "chars", len(seg.Text))
		audio, err := s.SynthesizeSegment(ctx, seg.Text, seg.VoiceID)
		if err != nil {
			return "", 0, fmt.Errorf("segment %d: %w", i, err)
		}
		clips = append(clips, audio)
	}
	path, n, err := s.combine(clips, label)
	if err != nil {
		return "", 0, err
	}
	return path, time.Duration(n) * time.Second / time.Duration(s.speech.SampleRate()), nil
}

// Combine concatenates clips with a pause between consecutive clips and
// writes <outputDir>/<uuid>_<label>.wav. Empty or undecodable clips are
// skipped.
func (s *Synthesizer) Combine(clips [][]byte, label string) (string, error) {
	path, _, err := s.combine(clips, label)
	return path, err
}

func (s *Synthesizer) combine(clips [][]byte, label string) (string, int, error) {
	rate := s.speech.SampleRate()
	silence := make([]int, pauseSamples(rate))

	var samples []int
	valid := 0
	for i, clip := range clips {
		data, err := decodeClip(clip, rate)
		if err != nil {
			constants.Logger.Warn("Skipping audio segment", "segment", i, "error", err)
			continue
		}
		if valid > 0 {
			samples = append(samples, silence...)
		}
		samples = append(samples, data...)
		valid++
	}
	if valid == 0 {
		return "", 0, ErrNoAudio
	}

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("podcast: create output dir: %w", err)
	}
	path := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.wav", uuid.NewString(), safeLabel(label)))
	if err := writeWAV(path, samples, rate); err != nil {
		return "", 0, err
	}
	constants.Logger.Info("Podcast audio written", "path", path, "segments", valid, "samples", len(samples))
	return path, len(samples), nil
}

func pauseSamples(rate int) int {
	return int(int64(rate) * int64(constants.SegmentPause) / int64(time.Second))
}

func safeLabel(label string) string {
	l := strings.Trim(unsafeLabel.ReplaceAllString(label, "_"), "_")
	if len(l) > 40 {
		l = l[:40]
	}
	if l == "" {
		return "podcast"
	}
	return l
}

// decodeClip returns the 16-bit mono samples of a clip. Clips without a
// RIFF header are taken as raw little-endian PCM at rate.
func decodeClip(data []byte, rate int) ([]int, error) {
	if len(data) == 0 {
		return nil, errors.New("empty clip")
	}
	if len(data) < 4 || string(data[0:4]) != "RIFF" {
		return rawPCM(data)
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("invalid WAV file: %w", err)
	}
	if d.NumChans != 1 || d.BitDepth != 16 || int(d.SampleRate) != rate {
		return nil, fmt.Errorf("unsupported WAV format: %d channels, %d bits, %d Hz", d.NumChans, d.BitDepth, d.SampleRate)
	}
	if len(buf.Data) == 0 {
		return nil, errors.New("no audio samples")
	}
	return buf.Data, nil
}

func rawPCM(data []byte) ([]int, error) {
	n := len(data) / 2
	if n == 0 {
		return nil, errors.New("no audio samples")
	}
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}
	return samples, nil
}

func writeWAV(path string, samples []int, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("podcast: write %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	werr := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	})
	if werr == nil {
		werr = enc.Close()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("podcast: write %s: %w", path, werr)
	}
	return nil
}
