package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"meeting-insights-go/internal/command"
	"meeting-insights-go/internal/logger"
)

var ErrNoAudioTrack = errors.New("video file has no audio track")

// Extractor pulls the audio track out of video containers with ffprobe/ffmpeg.
type Extractor struct {
	FFmpegPath  string
	FFprobePath string
	TempRoot    string

	runner command.Runner
	log    *logger.Logger
}

func NewExtractor(ffmpegPath, ffprobePath string, runner command.Runner, log *logger.Logger) *Extractor {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Extractor{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		runner:      runner,
		log:         log.Component("media"),
	}
}

// ExtractAudio writes the audio track of videoPath into a private temp
// directory. The returned Artifact owns that directory; callers must Release it.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath string) (*Artifact, error) {
	probe, err := e.runner.Run(ctx, e.FFprobePath, buildProbeArgs(videoPath)...)
	if err != nil {
		return nil, fmt.Errorf("probe audio streams: %w", err)
	}
	if strings.TrimSpace(probe.Stdout) == "" {
		return nil, ErrNoAudioTrack
	}

	dir, err := os.MkdirTemp(e.TempRoot, "meeting-audio-*")
	if err != nil {
		return nil, fmt.Errorf("create audio workspace: %w", err)
	}
	out := filepath.Join(dir, "audio.wav")
	art := NewScopedArtifact(dir, out, e.log)

	if _, err := e.runner.Run(ctx, e.FFmpegPath, buildExtractArgs(videoPath, out)...); err != nil {
		art.Release()
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		art.Release()
		return nil, fmt.Errorf("ffmpeg completed but audio file is missing: %w", err)
	}

	e.log.WithFields(logrus.Fields{"source": videoPath, "audio": out}).Debug("audio extracted")
	return art, nil
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	}
}

func buildExtractArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		out,
	}
}
