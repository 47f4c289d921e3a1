package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "wxsentry/pkg/logx"
)

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		status      int
		body        string
		wantHealthy bool
		wantErr     bool
	}{
		{name: "ok body", status: 200, body: "ok", wantHealthy: true},
		{name: "true body", status: 200, body: "True", wantHealthy: true},
		{name: "empty body", status: 200, body: "", wantHealthy: true},
		{name: "json flag", status: 200, body: `{"running": true}`, wantHealthy: true},
		{name: "negative body", status: 200, body: "stopped", wantHealthy: false},
		{name: "server error", status: 503, body: "ok", wantHealthy: false, wantErr: true},
		{name: "not found", status: 404, body: "", wantHealthy: false, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("wxid"); got != "acct-a" {
					t.Errorf("wxid query = %q", got)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := NewHTTPChecker(Config{URL: srv.URL, Timeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("NewHTTPChecker: %v", err)
			}
			healthy, err := c.CheckHealth(context.Background(), "acct-a")
			if healthy != tc.wantHealthy {
				t.Fatalf("healthy = %v, want %v (err=%v)", healthy, tc.wantHealthy, err)
			}
			if tc.wantErr && err == nil {
				t.Fatal("want error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckHealthUnreachable(t *testing.T) {
	t.Parallel()

	c, err := NewHTTPChecker(Config{URL: "http://127.0.0.1:1/IsRunning", Timeout: 200 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPChecker: %v", err)
	}
	healthy, err := c.CheckHealth(context.Background(), "acct-a")
	if healthy || err == nil {
		t.Fatalf("healthy=%v err=%v, want unhealthy with error", healthy, err)
	}
}

func TestNewHTTPCheckerRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPChecker(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty url accepted")
	}
}
