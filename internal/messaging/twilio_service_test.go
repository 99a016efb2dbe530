package messaging

import (
	"context"
	"testing"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// fakeTwilioSender records created messages.
type fakeTwilioSender struct {
	params []*openapi.CreateMessageParams
	err    error
}

func (f *fakeTwilioSender) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.params = append(f.params, params)
	return &openapi.ApiV2010Message{}, nil
}

func TestTwilioServiceValidateRecipient(t *testing.T) {
	s := NewTwilioServiceWithSender(&fakeTwilioSender{}, "+15550001111")
	cases := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{"plain digits", "886912345678", "886912345678", false},
		{"formatted", "+886 912-345-678", "886912345678", false},
		{"empty", "", "", true},
		{"no digits", "abc", "", true},
		{"too short", "12345", "", true},
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

func TestTwilioServiceSendText(t *testing.T) {
	sender := &fakeTwilioSender{}
	s := NewTwilioServiceWithSender(sender, "+15550001111")

	if err := s.SendText(context.Background(), "+886 912 345 678", "接著服用藥物：B\n劑量：2。"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.params) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.params))
	}
	p := sender.params[0]
	if p.To == nil || *p.To != "+886912345678" {
		t.Errorf("unexpected To: %v", p.To)
	}
	if p.From == nil || *p.From != "+15550001111" {
		t.Errorf("unexpected From: %v", p.From)
	}
	if p.Body == nil || *p.Body != "接著服用藥物：B\n劑量：2。" {
		t.Errorf("unexpected Body: %v", p.Body)
	}
}

func TestTwilioServiceSendImage(t *testing.T) {
	sender := &fakeTwilioSender{}
	s := NewTwilioServiceWithSender(sender, "+15550001111")

	if err := s.SendImage(context.Background(), "886912345678", "https://example.com/pill.png", "ignored"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := sender.params[0]
	if p.MediaUrl == nil || len(*p.MediaUrl) != 1 || (*p.MediaUrl)[0] != "https://example.com/pill.png" {
		t.Errorf("unexpected MediaUrl: %v", p.MediaUrl)
	}
}
