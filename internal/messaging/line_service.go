package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/line/line-bot-sdk-go/v7/linebot"
)

// LinePusher abstracts the LINE SDK push call. The production implementation
// wraps *linebot.Client; tests substitute a recording fake.
type LinePusher interface {
	Push(ctx context.Context, to string, messages ...linebot.SendingMessage) error
}

// lineClientPusher adapts *linebot.Client to the LinePusher interface.
type lineClientPusher struct {
	client *linebot.Client
}

func (p lineClientPusher) Push(ctx context.Context, to string, messages ...linebot.SendingMessage) error {
	_, err := p.client.PushMessage(to, messages...).WithContext(ctx).Do()
	return err
}

// LineService implements Service using the LINE Messaging API push endpoint.
type LineService struct {
	pusher LinePusher
}

// NewLineService creates a LineService wrapping the given LINE bot client.
func NewLineService(client *linebot.Client) *LineService {
	return &LineService{pusher: lineClientPusher{client: client}}
}

// NewLineServiceWithPusher creates a LineService with a custom pusher.
// Intended for tests.
func NewLineServiceWithPusher(pusher LinePusher) *LineService {
	return &LineService{pusher: pusher}
}

// ValidateAndCanonicalizeRecipient trims surrounding whitespace and checks
// the result looks like a LINE user id (they all start with "U").
func (s *LineService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if !strings.HasPrefix(canonical, "U") {
		return "", fmt.Errorf("invalid LINE user id %q: must start with 'U'", canonical)
	}
	if canonical != recipient {
		slog.Debug("LineService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendText pushes a text message to the given LINE user.
func (s *LineService) SendText(ctx context.Context, to, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("LineService SendText validation error", "error", err, "to", to)
		return err
	}
	if err := s.pusher.Push(ctx, canonicalTo, linebot.NewTextMessage(body)); err != nil {
		slog.Error("LineService SendText push failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to push text message to %s: %w", canonicalTo, err)
	}
	slog.Debug("LineService SendText succeeded", "to", canonicalTo, "body_length", len(body))
	return nil
}

// SendImage pushes an image message with the given full-size and preview URLs.
func (s *LineService) SendImage(ctx context.Context, to, originalURL, previewURL string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("LineService SendImage validation error", "error", err, "to", to)
		return err
	}
	if err := s.pusher.Push(ctx, canonicalTo, linebot.NewImageMessage(originalURL, previewURL)); err != nil {
		slog.Error("LineService SendImage push failed", "error", err, "to", canonicalTo, "url", originalURL)
		return fmt.Errorf("failed to push image message to %s: %w", canonicalTo, err)
	}
	slog.Debug("LineService SendImage succeeded", "to", canonicalTo, "url", originalURL)
	return nil
}
