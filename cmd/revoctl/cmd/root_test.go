package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServerURL(t *testing.T) {
	tests := []struct {
		name   string
		server string
		path   string
		want   string
	}{
		{
			name:   "bare host gets http scheme",
			server: "localhost:8080",
			path:   "/v1/runs",
			want:   "http://localhost:8080/v1/runs",
		},
		{
			name:   "explicit https kept",
			server: "https://revoflow.example.com",
			path:   "/healthz",
			want:   "https://revoflow.example.com/healthz",
		},
	}

	orig := serverAddr
	defer func() { serverAddr = orig }()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverAddr = tt.server
			if got := serverURL(tt.path); got != tt.want {
				t.Errorf("serverURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
		case "/error":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	origServer, origToken := serverAddr, jwtToken
	defer func() { serverAddr, jwtToken = origServer, origToken }()
	serverAddr = srv.URL
	jwtToken = "test-token"

	t.Run("decodes response and sends token", func(t *testing.T) {
		var out map[string]string
		if err := fetchJSON("GET", "/ok", nil, &out); err != nil {
			t.Fatalf("fetchJSON: %v", err)
		}
		if out["hello"] != "world" {
			t.Fatalf("body = %v", out)
		}
	})

	t.Run("surfaces API error body", func(t *testing.T) {
		var out map[string]string
		err := fetchJSON("GET", "/error", nil, &out)
		if err == nil || !strings.Contains(err.Error(), "run not found") {
			t.Fatalf("err = %v, want run not found", err)
		}
	})
}

func TestCheckJQAvailable(t *testing.T) {
	// Just ensure it does not panic; jq may or may not be installed.
	_ = checkJQAvailable()
}
