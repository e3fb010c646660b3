package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported media format")

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true,
	".ogg": true, ".flac": true, ".wma": true, ".aiff": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true,
}

// Validate checks the upload against the extension allow-list and requires an
// audio/* or video/* content type.
func Validate(filename, contentType string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: missing filename", ErrUnsupportedFormat)
	}
	ext := Ext(filename)
	if !audioExts[ext] && !videoExts[ext] {
		return fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(ct, "audio/") && !strings.HasPrefix(ct, "video/") {
		return fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, contentType)
	}
	return nil
}

// IsVideo reports whether path names a video container.
func IsVideo(path string) bool {
	return videoExts[Ext(path)]
}

// Ext returns the lower-cased extension including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
