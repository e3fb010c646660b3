package transcription

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"meeting-insights-go/internal/httpclient"
	"meeting-insights-go/internal/logger"
)

// Remote uploads audio to a hosted whisper endpoint (POST {base}/predict,
// multipart field "file").
type Remote struct {
	baseURL string
	client  *httpclient.Client
	log     *logger.Logger
}

func NewRemote(baseURL string, client *httpclient.Client, log *logger.Logger) *Remote {
	return &Remote{baseURL: baseURL, client: client, log: log.Component("transcription.remote")}
}

func (r *Remote) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	r.log.WithField("path", audioPath).WithField("bytes", len(audio)).Info("uploading audio for transcription")

	body, err := r.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return newUpload(ctx, r.baseURL+"/predict", filepath.Base(audioPath), audio)
	})
	if err != nil {
		return "", err
	}

	text, err := httpclient.DecodeText(r.client.Provider, body)
	if err != nil {
		return "", err
	}
	r.log.WithField("chars", len(text)).Info("remote transcription completed")
	return text, nil
}

func newUpload(ctx context.Context, endpoint, name string, audio []byte) (*http.Request, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}
