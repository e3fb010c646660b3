package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meeting-insights-go/internal/command"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/media"
	"meeting-insights-go/internal/types"
	"meeting-insights-go/internal/workerpool"
)

// LocalConfig locates the whisper.cpp toolchain.
type LocalConfig struct {
	WhisperBin string
	ModelPath  string
	Language   string
	FFmpegPath string
	TempRoot   string
	// Timeout bounds one conversion plus whisper run once it holds a slot.
	Timeout time.Duration
}

// Local runs whisper.cpp on this host. Every call takes a slot in the shared
// inference pool so model runs never starve intake or status polling.
type Local struct {
	cfg    LocalConfig
	pool   *workerpool.Pool
	runner command.Runner
	log    *logger.Logger
}

func NewLocal(cfg LocalConfig, pool *workerpool.Pool, runner command.Runner, log *logger.Logger) *Local {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Local{cfg: cfg, pool: pool, runner: runner, log: log.Component("transcription.local")}
}

func (l *Local) Transcribe(ctx context.Context, audioPath string) (string, error) {
	var text string
	err := l.pool.Do(ctx, l.cfg.Timeout, func(ctx context.Context) error {
		var err error
		text, err = l.run(ctx, audioPath)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (l *Local) run(ctx context.Context, audioPath string) (string, error) {
	dir, err := os.MkdirTemp(l.cfg.TempRoot, "whisper-*")
	if err != nil {
		return "", fmt.Errorf("create whisper workspace: %w", err)
	}
	ws := media.NewArtifact(dir, l.log)
	defer ws.Release()

	wav := filepath.Join(dir, "input-16k-mono.wav")
	if _, err := l.runner.Run(ctx, l.cfg.FFmpegPath, buildFFmpegArgs(audioPath, wav)...); err != nil {
		return "", fmt.Errorf("convert audio for whisper: %w", err)
	}

	base := filepath.Join(dir, "transcript")
	if _, err := l.runner.Run(ctx, l.cfg.WhisperBin, buildWhisperArgs(l.cfg.ModelPath, wav, base, l.cfg.Language)...); err != nil {
		return "", fmt.Errorf("whisper.cpp transcription failed: %w", err)
	}

	content, err := os.ReadFile(base + ".txt")
	if err != nil {
		return "", fmt.Errorf("whisper.cpp completed but transcript is missing: %w", err)
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", fmt.Errorf("whisper.cpp: %w", types.ErrEmptyResult)
	}

	l.log.WithField("chars", len(text)).Info("local transcription completed")
	return text, nil
}

// buildFFmpegArgs converts any input to mono 16 kHz PCM WAV, the format
// whisper.cpp expects.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

// normalizeLanguage maps "auto" and empty to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
