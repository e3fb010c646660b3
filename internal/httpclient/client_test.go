package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

func newClient(retry time.Duration) *Client {
	l, _ := test.NewNullLogger()
	return New("whisper", &http.Client{Timeout: 5 * time.Second}, "secret", retry, logger.Wrap(l))
}

func get(url string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	}
}

func TestDoSendsBearerAndReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	body, err := newClient(0).Do(context.Background(), get(srv.URL))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(body) != `{"text":"ok"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestDoNon2xxIsProviderError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad file"))
	}))
	defer srv.Close()

	_, err := newClient(time.Second).Do(context.Background(), get(srv.URL))
	var pe *types.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *types.ProviderError", err)
	}
	if pe.Code != http.StatusBadRequest || pe.Body != "bad file" {
		t.Fatalf("provider error = %+v", pe)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, 4xx must not be retried", calls)
	}
}

func TestDoRetries5xxWhenEnabled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":["done"]}`))
	}))
	defer srv.Close()

	if _, err := newClient(10 * time.Second).Do(context.Background(), get(srv.URL)); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoNoRetryByDefault(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(0).Do(context.Background(), get(srv.URL))
	var pe *types.ProviderError
	if !errors.As(err, &pe) || pe.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoTimeoutIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(0).Do(ctx, get(srv.URL))
	var pe *types.ProviderError
	if !errors.As(err, &pe) || pe.Code != 0 {
		t.Fatalf("err = %v, want transport ProviderError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want to wrap deadline exceeded", err)
	}
}

func TestDoAppliesClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newClient(0)
	c.Timeout = 50 * time.Millisecond
	_, err := c.Do(context.Background(), get(srv.URL))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestDecodeText(t *testing.T) {
	cases := []struct {
		name, body, want string
		empty            bool
	}{
		{"data list", `{"data":["hello world", 1]}`, "hello world", false},
		{"text field", `{"text":"from text"}`, "from text", false},
		{"data wins over text", `{"data":["d"],"text":"t"}`, "d", false},
		{"empty data", `{"data":[]}`, "", true},
		{"blank text", `{"text":"  "}`, "", true},
		{"neither", `{"other":1}`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeText("llm", []byte(tc.body))
			if tc.empty {
				if !errors.Is(err, types.ErrEmptyResult) {
					t.Fatalf("err = %v, want ErrEmptyResult", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("DecodeText() = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestDecodeTextInvalidJSON(t *testing.T) {
	_, err := DecodeText("llm", []byte("<html>"))
	var pe *types.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}
