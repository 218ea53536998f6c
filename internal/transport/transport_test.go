package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_PlainHTTP(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	for _, fp := range []Fingerprint{FingerprintChrome, FingerprintGo} {
		t.Run(string(fp), func(t *testing.T) {
			c := NewClient(Options{Timeout: 5 * time.Second, Fingerprint: fp, UserAgent: "unycop-connector/1.0"})
			resp, err := c.Get(srv.URL)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d", resp.StatusCode)
			}
			if gotUA != "unycop-connector/1.0" {
				t.Errorf("User-Agent = %q", gotUA)
			}
		})
	}
}

func TestUserAgent_KeepsExplicitHeader(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(Options{UserAgent: "default"})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotUA != "custom" {
		t.Errorf("User-Agent = %q, want custom", gotUA)
	}
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	if c := NewClient(Options{}); c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
}
