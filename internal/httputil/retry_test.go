package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: 20 * time.Millisecond, MaxDelay: 80 * time.Millisecond}
}

// statusSequence replies with codes in order and repeats the last one.
func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(attempts.Add(1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.WriteHeader(codes[n])
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func get(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestDo_Attempts(t *testing.T) {
	cases := []struct {
		name         string
		codes        []int
		wantAttempts int32
		wantErr      bool
		wantStatus   int
	}{
		{"first attempt ok", []int{200}, 1, false, 200},
		{"recovers after 503s", []int{503, 503, 200}, 3, false, 200},
		{"rate limited then ok", []int{429, 200}, 2, false, 200},
		{"all attempts fail", []int{502}, 3, true, 0},
		{"client error not retried", []int{400}, 1, false, 400},
	}

	client := &http.Client{Timeout: 5 * time.Second}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, attempts := statusSequence(t, tc.codes...)

			resp, err := Do(context.Background(), client, fastRetry(3), get(srv.URL))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error after all attempts failed")
				}
				t.Logf("Error after retries: %v", err)
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				defer resp.Body.Close()
				if resp.StatusCode != tc.wantStatus {
					t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
				}
			}
			if attempts.Load() != tc.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tc.wantAttempts, attempts.Load())
			}
		})
	}
}

func TestDo_CustomRetryable(t *testing.T) {
	srv, attempts := statusSequence(t, http.StatusConflict, http.StatusOK)

	cfg := fastRetry(3)
	cfg.Retryable = func(r *http.Response) bool { return r.StatusCode == http.StatusConflict }

	resp, err := Do(context.Background(), &http.Client{Timeout: 5 * time.Second}, cfg, get(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if attempts.Load() != 2 {
		t.Fatalf("expected conflict to be retried once, got %d attempts", attempts.Load())
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	srv, _ := statusSequence(t, http.StatusServiceUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}
	_, err := Do(ctx, &http.Client{Timeout: 5 * time.Second}, cfg, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if err == nil {
		t.Fatal("expected error from context cancellation")
	}
	t.Logf("Cancelled: %v", err)
}
