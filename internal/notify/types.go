package notify

import (
	"context"
	"fmt"
	"strings"
)

// Channel is a delivery backend tag. The set is closed: senders are selected
// by exhaustive lookup and config validation rejects anything else.
type Channel string

const (
	// ChannelWeChat routes through the public-account push.
	ChannelWeChat Channel = "wechat"
	ChannelSMS    Channel = "sms"
	ChannelMail   Channel = "mail"
	// ChannelWebhook posts to a user-configured webhook.
	ChannelWebhook Channel = "webhook"
	// ChannelCP routes through enterprise WeChat ("cp" in the provider API).
	ChannelCP Channel = "cp"
)

// Channels lists every supported channel, in display order.
func Channels() []Channel {
	return []Channel{ChannelWeChat, ChannelSMS, ChannelMail, ChannelWebhook, ChannelCP}
}

// ParseChannel normalizes and validates a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelWeChat, ChannelSMS, ChannelMail, ChannelWebhook, ChannelCP:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q (supported: wechat, sms, mail, webhook, cp)", s)
}

// Request is one fully rendered notification. It is built fresh per alert
// and never mutated after construction.
type Request struct {
	SourceID  string
	Channel   Channel
	Title     string
	Body      string
	Recipient string // empty: deliver to the token owner
}

// Result is the terminal outcome of a dispatch. Delivery failure is a normal
// outcome, reported here and in logs, never an escalated error.
type Result struct {
	Success      bool
	AttemptsUsed int
	LastErr      error
}

// Sender is the capability a dispatch borrows to perform one delivery
// attempt. Implementations report whether a failure is worth retrying:
// retriable=false (bad credentials and the like) short-circuits the
// remaining attempts.
type Sender interface {
	Deliver(ctx context.Context, req Request) (retriable bool, err error)
}

// Senders maps each channel to its sender. Built once at wiring time;
// Dispatch fails fast on a channel with no sender.
type Senders map[Channel]Sender
