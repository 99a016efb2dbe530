package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/line/line-bot-sdk-go/v7/linebot"
)

// fakePusher records pushed messages and can simulate transport failures.
type fakePusher struct {
	to       []string
	messages [][]linebot.SendingMessage
	err      error
}

func (f *fakePusher) Push(ctx context.Context, to string, messages ...linebot.SendingMessage) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.messages = append(f.messages, messages)
	return nil
}

func TestLineServiceValidateRecipient(t *testing.T) {
	s := NewLineServiceWithPusher(&fakePusher{})
	cases := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{"valid", "U4af4980629abcdef1234567890abcdef", "U4af4980629abcdef1234567890abcdef", false},
		{"trims whitespace", "  U123 ", "U123", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"wrong prefix", "G12345", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ValidateAndCanonicalizeRecipient(tc.recipient)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.recipient)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestLineServiceSendText(t *testing.T) {
	pusher := &fakePusher{}
	s := NewLineServiceWithPusher(pusher)

	if err := s.SendText(context.Background(), "U123", "提醒您服用藥物：A\n劑量：1。"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pusher.messages) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pusher.messages))
	}
	msg, ok := pusher.messages[0][0].(*linebot.TextMessage)
	if !ok {
		t.Fatalf("expected TextMessage, got %T", pusher.messages[0][0])
	}
	if msg.Text != "提醒您服用藥物：A\n劑量：1。" {
		t.Errorf("unexpected text: %q", msg.Text)
	}

	if err := s.SendText(context.Background(), "", "hi"); err == nil {
		t.Error("expected validation error for empty recipient")
	}
}

func TestLineServiceSendImage(t *testing.T) {
	pusher := &fakePusher{}
	s := NewLineServiceWithPusher(pusher)

	if err := s.SendImage(context.Background(), "U123", "https://example.com/full.png", "https://example.com/prev.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, ok := pusher.messages[0][0].(*linebot.ImageMessage)
	if !ok {
		t.Fatalf("expected ImageMessage, got %T", pusher.messages[0][0])
	}
	if msg.OriginalContentURL != "https://example.com/full.png" || msg.PreviewImageURL != "https://example.com/prev.png" {
		t.Errorf("unexpected image URLs: %+v", msg)
	}
}

func TestLineServiceSendTextTransportError(t *testing.T) {
	pusher := &fakePusher{err: errors.New("line unavailable")}
	s := NewLineServiceWithPusher(pusher)

	if err := s.SendText(context.Background(), "U123", "hi"); err == nil {
		t.Error("expected transport error to be surfaced")
	}
}
