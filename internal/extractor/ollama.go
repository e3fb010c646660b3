package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"meeting-insights-go/internal/httpclient"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
	"meeting-insights-go/internal/workerpool"
)

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

// Ollama talks to a local Ollama server. Generation runs inside the inference
// pool since the model shares the host with transcription.
type Ollama struct {
	baseURL string
	model   string
	params  Params
	client  *httpclient.Client
	pool    *workerpool.Pool
	log     *logger.Logger
}

func NewOllama(baseURL, model string, params Params, client *httpclient.Client, pool *workerpool.Pool, log *logger.Logger) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		params:  params,
		client:  client,
		pool:    pool,
		log:     log.Component("extractor.ollama"),
	}
}

// Ping reports whether GET /api/tags answers 200.
func (o *Ollama) Ping(ctx context.Context) error {
	code, err := o.client.Get(ctx, o.baseURL+"/api/tags")
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("ollama probe returned %d", code)
	}
	return nil
}

func (o *Ollama) Analyze(ctx context.Context, transcript, title string) (types.Analysis, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Prompt: BuildPrompt(transcript, title),
		Options: ollamaOptions{
			Temperature: o.params.Temperature,
			TopP:        0.9,
			NumPredict:  o.params.MaxTokens,
		},
	})
	if err != nil {
		return types.Analysis{}, err
	}

	var body []byte
	// the client's own timeout starts inside the slot
	err = o.pool.Do(ctx, 0, func(ctx context.Context) error {
		var err error
		body, err = o.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		})
		return err
	})
	if err != nil {
		return types.Analysis{}, err
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return types.Analysis{}, &types.ProviderError{Provider: o.client.Provider, Code: http.StatusOK, Body: string(body), Err: err}
	}
	if strings.TrimSpace(out.Response) == "" {
		return types.Analysis{}, fmt.Errorf("%s: %w", o.client.Provider, types.ErrEmptyResult)
	}

	o.log.WithField("reply_chars", len(out.Response)).Info("ollama analysis completed")
	return ParseAnalysis(out.Response, o.log), nil
}
