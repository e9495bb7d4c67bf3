// Package slack posts conversation events to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/roundhouse/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API method we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Subscriber implements notify.Subscriber for Slack.
type Subscriber struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Subscriber.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Subscriber.
func New(opts Opts) (*Subscriber, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Subscriber{client: client, channelID: opts.ChannelID}, nil
}

// Notify implements notify.Subscriber.
func (s *Subscriber) Notify(ctx context.Context, evt notify.Event) error {
	options := buildMessageOptions(notify.Format(evt))
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessage(s.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func buildMessageOptions(f notify.FormattedEvent) []slackapi.MsgOption {
	att := slackapi.Attachment{
		Title:    f.Title,
		Text:     f.Body,
		Color:    f.Color,
		Fallback: f.Title,
	}
	for _, fld := range f.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: fld.Name,
			Value: fld.Value,
			Short: fld.Short,
		})
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionAttachments(att),
		slackapi.MsgOptionText(f.Title, false),
	}
}

// retryOnRateLimit retries fn when Slack answers with a rate limit,
// honoring Retry-After.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
