// Package messaging provides outbound push transports for medirelay.
//
// Reminders are delivered through the LINE Messaging API by default; an
// alternative Twilio SMS/MMS transport can be selected for deployments
// without a LINE channel.
package messaging

import "context"

// Service defines a pluggable push-message delivery abstraction.
// The dispatcher and HTTP handlers depend only on this interface.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Returns the canonicalized recipient and an
	// error if validation fails. Each transport implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText pushes a text message to a recipient.
	SendText(ctx context.Context, to, body string) error

	// SendImage pushes an image message. originalURL is the full-size
	// image and previewURL its thumbnail; transports without a preview
	// concept may ignore previewURL.
	SendImage(ctx context.Context, to, originalURL, previewURL string) error
}
