package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"meeting-insights-go/internal/command"
	"meeting-insights-go/internal/logger"
)

type fakeRunner struct {
	probeOut  string
	ffmpegErr error
	calls     []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "ffprobe":
		return command.Result{Stdout: f.probeOut}, nil
	case "ffmpeg":
		if f.ffmpegErr != nil {
			return command.Result{ExitCode: 1}, f.ffmpegErr
		}
		out := args[len(args)-1]
		return command.Result{}, os.WriteFile(out, []byte("RIFF"), 0o644)
	}
	return command.Result{}, errors.New("unexpected command " + name)
}

func nullLogger() *logger.Logger {
	l, _ := test.NewNullLogger()
	return logger.Wrap(l)
}

func newTestExtractor(t *testing.T, r command.Runner) *Extractor {
	t.Helper()
	e := NewExtractor("ffmpeg", "ffprobe", r, nullLogger())
	e.TempRoot = t.TempDir()
	return e
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp root has %d entries, want 0", len(entries))
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name, filename, contentType string
		ok                          bool
	}{
		{"mp3", "standup.mp3", "audio/mpeg", true},
		{"upper case ext", "Standup.MP4", "video/mp4", true},
		{"webm", "call.webm", "video/webm", true},
		{"txt", "notes.txt", "text/plain", false},
		{"audio ext but wrong type", "standup.wav", "application/octet-stream", false},
		{"no filename", "", "audio/wav", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.filename, tc.contentType)
			if tc.ok && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("Validate() error = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

func TestIsVideo(t *testing.T) {
	if !IsVideo("/uploads/abc.MOV") {
		t.Fatal("mov should be video")
	}
	if IsVideo("/uploads/abc.m4a") {
		t.Fatal("m4a should not be video")
	}
}

func TestExtractAudioNoAudioTrack(t *testing.T) {
	r := &fakeRunner{probeOut: "\n"}
	e := newTestExtractor(t, r)

	art, err := e.ExtractAudio(context.Background(), "clip.mp4")
	if !errors.Is(err, ErrNoAudioTrack) {
		t.Fatalf("err = %v, want ErrNoAudioTrack", err)
	}
	if art != nil {
		t.Fatal("artifact should be nil on failure")
	}
	if len(r.calls) != 1 {
		t.Fatalf("calls = %v, want only ffprobe", r.calls)
	}
	assertEmptyDir(t, e.TempRoot)
}

func TestExtractAudioSuccessAndRelease(t *testing.T) {
	e := newTestExtractor(t, &fakeRunner{probeOut: "1\n"})

	art, err := e.ExtractAudio(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("ExtractAudio() error = %v", err)
	}
	if filepath.Base(art.Path) != "audio.wav" {
		t.Fatalf("path = %q", art.Path)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Fatalf("audio file missing: %v", err)
	}

	art.Release()
	art.Release()
	assertEmptyDir(t, e.TempRoot)
}

func TestExtractAudioFFmpegFailureCleansUp(t *testing.T) {
	e := newTestExtractor(t, &fakeRunner{probeOut: "1", ffmpegErr: errors.New("exit status 1")})

	if _, err := e.ExtractAudio(context.Background(), "clip.mkv"); err == nil {
		t.Fatal("expected error")
	}
	assertEmptyDir(t, e.TempRoot)
}

func TestArtifactReleaseFailureIsLogged(t *testing.T) {
	l, hook := test.NewNullLogger()
	calls := 0
	art := &Artifact{Path: "/tmp/x.wav", log: logger.Wrap(l), remove: func(string) error {
		calls++
		return errors.New("permission denied")
	}}

	art.Release()
	art.Release()

	if calls != 1 {
		t.Fatalf("remove calls = %d, want 1", calls)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning entry, got %v", entry)
	}
	if entry.Data["error"] != "permission denied" {
		t.Fatalf("error field = %v", entry.Data["error"])
	}
}

func TestNilArtifactRelease(t *testing.T) {
	var art *Artifact
	art.Release()
}

func TestBuildExtractArgs(t *testing.T) {
	args := buildExtractArgs("in.mp4", "out.wav")
	want := []string{"-hide_banner", "-nostdin", "-y", "-i", "in.mp4", "-vn", "-acodec", "pcm_s16le", "out.wav"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
