package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	logx "wxsentry/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func newTestClient(t *testing.T, handler http.HandlerFunc) *PushPlusClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewPushPlusClient(PushPlusConfig{Token: "tok", BaseURL: srv.URL}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestPushPlusDeliverSuccess(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen pushPlusPayload
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&seen)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "msg": "ok"})
	})

	senders := PushPlusSenders(c)
	retriable, err := senders[ChannelSMS].Deliver(context.Background(), Request{
		Title: "t", Body: "b",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if retriable {
		t.Fatal("retriable should be false on success")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen.Token != "tok" || seen.Channel != "sms" || seen.Title != "t" {
		t.Fatalf("unexpected payload: %+v", seen)
	}
}

func TestPushPlusRecipientOnlyOnWeChat(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		tos []string
		chs []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var p pushPlusPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		tos = append(tos, p.To)
		chs = append(chs, p.Channel)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 200})
	})
	senders := PushPlusSenders(c)

	req := Request{Recipient: "alice"}
	if _, err := senders[ChannelWeChat].Deliver(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := senders[ChannelMail].Deliver(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if tos[0] != "alice" {
		t.Fatalf("wechat payload to = %q, want alice", tos[0])
	}
	if tos[1] != "" {
		t.Fatalf("%s payload carried to = %q, want empty", chs[1], tos[1])
	}
}

func TestPushPlusErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		code      int
		msg       string
		retriable bool
	}{
		{name: "invalid token code", code: 903, msg: "bad", retriable: false},
		{name: "token in message", code: 500, msg: "token does not match user", retriable: false},
		{name: "transient provider error", code: 500, msg: "internal error", retriable: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"code": tt.code, "msg": tt.msg})
			})
			retriable, err := PushPlusSenders(c)[ChannelWebhook].Deliver(context.Background(), Request{})
			if err == nil {
				t.Fatal("expected error")
			}
			if retriable != tt.retriable {
				t.Fatalf("retriable = %v, want %v", retriable, tt.retriable)
			}
		})
	}
}

func TestPushPlusRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := NewPushPlusClient(PushPlusConfig{}, nopLogger()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
