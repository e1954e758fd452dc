package constants

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	ScrapeTimeout     = 60 * time.Second
	LlmTimeout        = 180 * time.Second
	SpeechTimeout     = 150 * time.Second
	MaxSummaryChars   = 1500
	MaxSpeechChars    = 2000
	MinContentChars   = 300
	MinTextWords      = 3
	RouteAttempts     = 3
	ScrapeAttempts    = 3
	SpeechAttempts    = 3
	SpeechBackoff     = 2 * time.Second
	SegmentPause      = 500 * time.Millisecond
	CacheRetention    = 7 * 24 * time.Hour
	CacheTable        = "workflow_cache"
	CachePath         = "tmp/workflow_cache.db"
	RedisKeyPrefix    = "multisource:cache:"
	RedisIndexKey     = "multisource:cache:index"
	OutputDir         = "final_podcast"
	DefaultSampleRate = 22050
	SpeakerA          = "SPEAKER_A"
	SpeakerB          = "SPEAKER_B"
	VoiceA            = "JBFqnCBsd6RMkjVDRZzb"
	VoiceB            = "21m00Tcm4TlvDq8ikWAM"
)

var (
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

	PodcastKeywords = []string{"podcast"}
	MindmapKeywords = []string{"mindmap", "mind map"}
)

// SetLogLevel replaces Logger with a JSON handler at the given level.
// Unknown levels fall back to info.
func SetLogLevel(level string) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
