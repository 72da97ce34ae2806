package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/projects/":                      "/v1/projects",
		"/v1/projects/sync":                  "/v1/projects/sync",
		"/v1/access-requests/pending?x=1":    "/v1/access-requests/pending",
		"/v1/connection/callback?code=abc":   "/v1/connection/callback",
		"/v1/accounts/abc":                   "unmatched",
		"/v1/access-requests/01HZZZ/details": "unmatched",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentPassesThroughStatus(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/projects", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestSetOutputCapturesJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Logger().Info("hello", "tenant_id", "t-1")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["tenant_id"] != "t-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
