package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// phoneNumberRegex matches every character that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// MinPhoneNumberDigits is the minimum number of digits a recipient phone
// number must contain after canonicalization.
const MinPhoneNumberDigits = 6

// TwilioSender abstracts the Twilio message-creation call for testability.
type TwilioSender interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioService implements Service using Twilio SMS (text) and MMS (image).
// It exists for deployments that relay reminders to phone numbers instead of
// LINE accounts; image previews have no SMS equivalent and are ignored.
type TwilioService struct {
	sender TwilioSender
	from   string
}

// NewTwilioService creates a TwilioService with a real Twilio REST client.
func NewTwilioService(accountSID, authToken, fromNumber string) *TwilioService {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioService{sender: client.Api, from: fromNumber}
}

// NewTwilioServiceWithSender creates a TwilioService with a custom sender.
// Intended for tests.
func NewTwilioServiceWithSender(sender TwilioSender, fromNumber string) *TwilioService {
	return &TwilioService{sender: sender, from: fromNumber}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
// It removes all non-numeric characters and validates the result has at least
// MinPhoneNumberDigits digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneNumberDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneNumberDigits)
	}

	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendText sends a text reminder as an SMS.
func (s *TwilioService) SendText(ctx context.Context, to, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo("+" + canonicalTo)
	params.SetFrom(s.from)
	params.SetBody(body)
	if _, err := s.sender.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendText failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to send SMS to %s: %w", canonicalTo, err)
	}
	slog.Debug("TwilioService SendText succeeded", "to", canonicalTo, "body_length", len(body))
	return nil
}

// SendImage sends an image reminder as an MMS. previewURL is ignored.
func (s *TwilioService) SendImage(ctx context.Context, to, originalURL, previewURL string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendImage validation error", "error", err, "to", to)
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo("+" + canonicalTo)
	params.SetFrom(s.from)
	params.SetMediaUrl([]string{originalURL})
	if _, err := s.sender.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendImage failed", "error", err, "to", canonicalTo, "url", originalURL)
		return fmt.Errorf("failed to send MMS to %s: %w", canonicalTo, err)
	}
	slog.Debug("TwilioService SendImage succeeded", "to", canonicalTo, "url", originalURL)
	return nil
}
