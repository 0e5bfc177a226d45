package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New([]Checker{CaptureChecker(func() error { return errors.New("stopped") })})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		capture    error
		journal    error
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "all pass",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"capture": "ok", "journal": "ok"},
		},
		{
			name:       "capture stopped",
			capture:    errors.New("listen: stream closed"),
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"capture": "fail: listen: stream closed", "journal": "ok"},
		},
		{
			name:       "both fail",
			capture:    errors.New("not started"),
			journal:    errors.New("connection refused"),
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"capture": "fail: not started", "journal": "fail: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New([]Checker{
				CaptureChecker(func() error { return tt.capture }),
				PingChecker("journal", func(context.Context) error { return tt.journal }),
			})
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
			wantBody := "ok"
			if tt.wantStatus != http.StatusOK {
				wantBody = "fail"
			}
			if body.Status != wantBody {
				t.Errorf("status = %q, want %q", body.Status, wantBody)
			}
		})
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	rec := httptest.NewRecorder()
	New(nil).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New([]Checker{
		PingChecker("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	type stats struct {
		FramesCaptured uint64 `json:"frames_captured"`
	}
	withStats := New(nil, WithStats(func() any { return stats{FramesCaptured: 42} }))
	withoutStats := New(nil)

	tests := []struct {
		name       string
		h          *Handler
		path       string
		wantStatus int
	}{
		{"healthz", withStats, "/healthz", http.StatusOK},
		{"readyz", withStats, "/readyz", http.StatusOK},
		{"statsz", withStats, "/statsz", http.StatusOK},
		{"statsz unset", withoutStats, "/statsz", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			tc.h.Register(mux)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}

	mux := http.NewServeMux()
	withStats.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/statsz", nil))
	var got stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.FramesCaptured != 42 {
		t.Errorf("frames_captured = %d, want 42", got.FramesCaptured)
	}
}
