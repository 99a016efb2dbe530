// Package dispatcher implements the time-triggered reminder scan for medirelay.
//
// Once per minute it walks the user roster, loads each user's medication
// schedule, and pushes reminder text (and image) messages for every dose
// entry whose time of day matches the current wall-clock minute. A failed
// send is logged and skipped; the same entry fires again at the same time the
// next day, so there is no retry within a tick.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anontaiwan/medirelay/internal/messaging"
	"github.com/anontaiwan/medirelay/internal/models"
	"github.com/anontaiwan/medirelay/internal/store"
)

const (
	// DefaultPlaceholderImageURL is the stock pill icon the front end assigns
	// when no reference photo was uploaded. Image pushes are skipped for it.
	DefaultPlaceholderImageURL = "https://cdn-icons-png.flaticon.com/512/2966/2966334.png"
	// DefaultSendTimeout bounds a single outbound push call so one stuck
	// send cannot stall the rest of the tick indefinitely.
	DefaultSendTimeout = 30 * time.Second

	// UnknownMedicineName substitutes a medicine name missing at an index.
	UnknownMedicineName = "未知藥品"
	// UnknownDosage substitutes a dosage missing at an index.
	UnknownDosage = "未知劑量"

	startReminderFormat    = "提醒您服用藥物：%s\n劑量：%s。"
	continueReminderFormat = "接著服用藥物：%s\n劑量：%s。"
)

// Dispatcher scans schedules and emits reminder pushes.
type Dispatcher struct {
	st              store.Store
	msg             messaging.Service
	defaultImageURL string
	sendTimeout     time.Duration
	now             func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultImageURL overrides the placeholder image URL that suppresses
// image pushes.
func WithDefaultImageURL(url string) Option {
	return func(d *Dispatcher) {
		d.defaultImageURL = url
	}
}

// WithSendTimeout overrides the per-send timeout.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.sendTimeout = timeout
	}
}

// WithClock overrides the wall-clock source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a Dispatcher reading schedules from st and sending through msg.
func New(st store.Store, msg messaging.Service, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		st:              st,
		msg:             msg,
		defaultImageURL: DefaultPlaceholderImageURL,
		sendTimeout:     DefaultSendTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tick performs one scan: every roster user's schedule is checked against the
// current wall-clock minute. Errors on one user never abort the scan for the
// others.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()
	slog.Debug("Dispatcher.Tick: scanning schedules", "minute", now.Format("15:04"))

	users, err := d.st.ListRosterUsers()
	if err != nil {
		slog.Error("Dispatcher.Tick: failed to list roster users", "error", err)
		return
	}

	for _, userID := range users {
		d.dispatchUser(ctx, userID, now)
	}
}

// dispatchUser loads one user's schedule and fires every entry matching now.
// Store errors abandon this user's tick only.
func (d *Dispatcher) dispatchUser(ctx context.Context, userID string, now time.Time) {
	entries, err := d.st.LoadSchedule(userID)
	if err != nil {
		slog.Error("Dispatcher.dispatchUser: failed to load schedule", "error", err, "userID", userID)
		return
	}
	if entries == nil {
		return
	}

	for _, entry := range entries {
		if !entry.MatchesMinute(now) {
			continue
		}
		d.dispatchEntry(ctx, userID, entry)
	}
}

// dispatchEntry pushes the reminder sequence for one matching dose entry:
// a "start" text for the first sub-item, "continue" texts for the rest, and
// an image push for every sub-item whose reference photo is not the stock
// placeholder.
func (d *Dispatcher) dispatchEntry(ctx context.Context, userID string, entry models.DoseEntry) {
	names := splitList(entry.Name)
	dosages := splitList(entry.Dosage)

	for i, item := range entry.SubItems {
		name := pick(names, i, UnknownMedicineName)
		dosage := pick(dosages, i, UnknownDosage)

		format := continueReminderFormat
		if i == 0 {
			format = startReminderFormat
		}
		body := fmt.Sprintf(format, name, dosage)

		if err := d.send(ctx, func(sendCtx context.Context) error {
			return d.msg.SendText(sendCtx, userID, body)
		}); err != nil {
			slog.Error("Dispatcher.dispatchEntry: failed to send reminder text", "error", err, "userID", userID, "index", i)
		} else {
			slog.Info("Dispatcher.dispatchEntry: reminder sent", "userID", userID, "time", entry.Time, "medicine", name)
		}

		imageURL := item.ReferenceImage
		if imageURL == "" || imageURL == d.defaultImageURL {
			continue
		}
		if err := d.send(ctx, func(sendCtx context.Context) error {
			return d.msg.SendImage(sendCtx, userID, imageURL, imageURL)
		}); err != nil {
			slog.Error("Dispatcher.dispatchEntry: failed to send reminder image", "error", err, "userID", userID, "url", imageURL)
		}
	}
}

// send runs one push call under the per-send timeout.
func (d *Dispatcher) send(ctx context.Context, push func(context.Context) error) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return push(sendCtx)
}

// splitList comma-splits a field into its parallel list. An empty field
// yields nil so every index substitutes its placeholder.
func splitList(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, ",")
}

// pick returns list[i] or the placeholder when i is out of range.
func pick(list []string, i int, placeholder string) string {
	if i < len(list) {
		return list[i]
	}
	return placeholder
}
