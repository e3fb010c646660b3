package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewUsesJSONOutsideLocal(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	log := NewWithOutput(&buf)
	log.WithField("k", "v").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"":      logrus.InfoLevel,
		"bogus": logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithRequestKeepsIncomingRequestID(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/meetings", nil)
	r.Header.Set("X-Request-ID", "req-42")

	entry := NewWithOutput(&bytes.Buffer{}).WithRequest(r)
	if entry.Data["req_id"] != "req-42" {
		t.Fatalf("req_id = %v, want req-42", entry.Data["req_id"])
	}
	if entry.Data["path"] != "/api/meetings" {
		t.Fatalf("path = %v", entry.Data["path"])
	}
}

func TestWithErrorNil(t *testing.T) {
	log := NewWithOutput(&bytes.Buffer{})
	if _, ok := log.WithError(nil).Data["error"]; ok {
		t.Fatal("nil error should not add an error field")
	}
	if got := log.WithError(errors.New("boom")).Data["error"]; got != "boom" {
		t.Fatalf("error field = %v, want boom", got)
	}
}
