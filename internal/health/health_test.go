package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, c *Checker) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.Handler()(rec, req)

	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	return rec, st
}

func TestCheckerNoExtraChecks(t *testing.T) {
	rec, st := serve(t, NewChecker("revoflow-worker", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !st.OK || st.Service != "revoflow-worker" {
		t.Errorf("status = %+v", st)
	}
}

func TestCheckerCheckResults(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
		wantCode int
		wantOK   bool
		want     string
	}{
		{
			name:     "passing check",
			checkErr: nil,
			wantCode: http.StatusOK,
			wantOK:   true,
			want:     "ok",
		},
		{
			name:     "failing check",
			checkErr: errors.New("nsqd unreachable"),
			wantCode: http.StatusServiceUnavailable,
			wantOK:   false,
			want:     "nsqd unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("revoflow-worker", nil)
			c.AddCheck("nsqd", func(ctx context.Context) error { return tt.checkErr })

			rec, st := serve(t, c)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if st.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", st.OK, tt.wantOK)
			}
			if st.Checks["nsqd"] != tt.want {
				t.Errorf("checks[nsqd] = %q, want %q", st.Checks["nsqd"], tt.want)
			}
		})
	}
}

func TestCheckerReplacesDuplicateCheck(t *testing.T) {
	c := NewChecker("revoflow-worker", nil)
	c.AddCheck("queue", func(ctx context.Context) error { return errors.New("old check") })
	c.AddCheck("queue", func(ctx context.Context) error { return nil })

	rec, st := serve(t, c)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if st.Checks["queue"] != "ok" {
		t.Errorf("checks[queue] = %q, want ok", st.Checks["queue"])
	}
}
