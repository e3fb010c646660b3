package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"meeting-insights-go/internal/httpclient"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

// Remote calls a hosted model endpoint: POST {base}/predict with
// {"data": [prompt, "json", temperature, max_tokens]}.
type Remote struct {
	baseURL string
	params  Params
	client  *httpclient.Client
	log     *logger.Logger
}

func NewRemote(baseURL string, params Params, client *httpclient.Client, log *logger.Logger) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		params:  params,
		client:  client,
		log:     log.Component("extractor.remote"),
	}
}

func (r *Remote) Analyze(ctx context.Context, transcript, title string) (types.Analysis, error) {
	payload, err := json.Marshal(map[string]any{
		"data": []any{BuildPrompt(transcript, title), "json", r.params.Temperature, r.params.MaxTokens},
	})
	if err != nil {
		return types.Analysis{}, err
	}

	body, err := r.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return types.Analysis{}, err
	}

	text, err := httpclient.DecodeText(r.client.Provider, body)
	if err != nil {
		return types.Analysis{}, err
	}
	r.log.WithField("reply_chars", len(text)).Info("remote analysis completed")
	return ParseAnalysis(text, r.log), nil
}
