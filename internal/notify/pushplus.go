package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "wxsentry/pkg/logx"
)

const defaultPushPlusURL = "http://www.pushplus.plus/send"

// PushPlusConfig carries provider credentials and routing defaults.
// Token is required; Topic is an optional group code (empty sends to the
// token owner only).
type PushPlusConfig struct {
	Token    string
	Template string // provider template, default "html"
	Topic    string
	BaseURL  string // override for tests
	Timeout  time.Duration
}

// PushPlusClient is the concrete HTTP transport behind every channel sender.
// One client serves all channels; the provider routes on the channel field.
type PushPlusClient struct {
	cfg PushPlusConfig
	hc  *http.Client
	log logx.Logger
}

func NewPushPlusClient(cfg PushPlusConfig, log logx.Logger) (*PushPlusClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("pushplus token is required")
	}
	if cfg.Template == "" {
		cfg.Template = "html"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPushPlusURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PushPlusClient{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		log: log,
	}, nil
}

// PushPlusSenders builds the full channel->sender set backed by one client.
func PushPlusSenders(client *PushPlusClient) Senders {
	out := make(Senders, len(Channels()))
	for _, ch := range Channels() {
		out[ch] = &pushPlusSender{client: client, channel: ch}
	}
	return out
}

// pushPlusSender binds the shared client to one channel.
type pushPlusSender struct {
	client  *PushPlusClient
	channel Channel
}

func (s *pushPlusSender) Deliver(ctx context.Context, req Request) (bool, error) {
	return s.client.send(ctx, s.channel, req)
}

type pushPlusPayload struct {
	Token    string `json:"token"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Template string `json:"template"`
	Channel  string `json:"channel"`
	Topic    string `json:"topic,omitempty"`
	To       string `json:"to,omitempty"`
}

type pushPlusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *PushPlusClient) send(ctx context.Context, channel Channel, req Request) (retriable bool, err error) {
	p := pushPlusPayload{
		Token:    c.cfg.Token,
		Title:    req.Title,
		Content:  req.Body,
		Template: c.cfg.Template,
		Channel:  string(channel),
		Topic:    c.cfg.Topic,
	}
	// The provider only honors a direct recipient on the wechat channel.
	if req.Recipient != "" && channel == ChannelWeChat {
		p.To = req.Recipient
	}

	body, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("pushplus: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("pushplus: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		// Network-level failures are transient by assumption.
		return true, fmt.Errorf("pushplus: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return true, fmt.Errorf("pushplus: read response: %w", err)
	}

	var pr pushPlusResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return true, fmt.Errorf("pushplus: decode response (http %d): %w", resp.StatusCode, err)
	}
	if pr.Code == 200 {
		c.log.Debug("pushplus accepted", logx.String("channel", string(channel)))
		return false, nil
	}

	err = fmt.Errorf("pushplus: code %d: %s", pr.Code, pr.Msg)
	if fatalPushPlusError(pr) {
		return false, err
	}
	return true, err
}

// fatalPushPlusError reports whether a provider rejection cannot be fixed
// by retrying (credential/account problems rather than transient errors).
func fatalPushPlusError(pr pushPlusResponse) bool {
	switch pr.Code {
	case 600, 903: // unauthorized / invalid token
		return true
	}
	return strings.Contains(strings.ToLower(pr.Msg), "token")
}
