package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anontaiwan/medirelay/internal/models"
	"github.com/anontaiwan/medirelay/internal/store"
)

type sentText struct {
	to   string
	body string
}

type sentImage struct {
	to       string
	original string
	preview  string
}

// fakeSender records pushes and can fail all sends to specific users.
type fakeSender struct {
	texts  []sentText
	images []sentImage
	failTo map[string]bool
}

func (f *fakeSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) error {
	if f.failTo[to] {
		return errors.New("transport down")
	}
	f.texts = append(f.texts, sentText{to: to, body: body})
	return nil
}

func (f *fakeSender) SendImage(ctx context.Context, to, originalURL, previewURL string) error {
	if f.failTo[to] {
		return errors.New("transport down")
	}
	f.images = append(f.images, sentImage{to: to, original: originalURL, preview: previewURL})
	return nil
}

func fixedClock(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 1, hour, minute, 30, 0, time.Local)
	}
}

func newTestStore(t *testing.T, userID string, entries []models.DoseEntry) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.AddRosterUser(userID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries != nil {
		if err := st.SaveSchedule(userID, entries); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return st
}

func TestTickMatchingEntry(t *testing.T) {
	entries := []models.DoseEntry{
		{
			Time:   "09:00",
			Name:   "A,B",
			Dosage: "1,2",
			SubItems: []models.DoseItem{
				{ReferenceImage: "https://example.com/x.png"},
				{ReferenceImage: "https://example.com/y.png"},
			},
		},
	}
	st := newTestStore(t, "U1", entries)
	sender := &fakeSender{}
	d := New(st, sender, WithClock(fixedClock(9, 0)))

	d.Tick(context.Background())

	if len(sender.texts) != 2 {
		t.Fatalf("expected 2 text pushes, got %d", len(sender.texts))
	}
	if sender.texts[0].body != "提醒您服用藥物：A\n劑量：1。" {
		t.Errorf("unexpected start reminder: %q", sender.texts[0].body)
	}
	if sender.texts[1].body != "接著服用藥物：B\n劑量：2。" {
		t.Errorf("unexpected continue reminder: %q", sender.texts[1].body)
	}
	if len(sender.images) != 2 {
		t.Fatalf("expected 2 image pushes, got %d", len(sender.images))
	}
	if sender.images[0].original != "https://example.com/x.png" || sender.images[0].preview != "https://example.com/x.png" {
		t.Errorf("image push must use the reference URL for both sizes: %+v", sender.images[0])
	}
}

func TestTickNonMatchingMinute(t *testing.T) {
	entries := []models.DoseEntry{{Time: "08:30", Name: "A", Dosage: "1", SubItems: []models.DoseItem{{}}}}
	st := newTestStore(t, "U1", entries)
	sender := &fakeSender{}

	New(st, sender, WithClock(fixedClock(8, 31))).Tick(context.Background())

	if len(sender.texts) != 0 || len(sender.images) != 0 {
		t.Errorf("no pushes expected at 08:31 for an 08:30 entry, got %d texts %d images", len(sender.texts), len(sender.images))
	}
}

func TestTickSkipsPlaceholderImage(t *testing.T) {
	entries := []models.DoseEntry{
		{
			Time:   "12:00",
			Name:   "A,B",
			Dosage: "1,2",
			SubItems: []models.DoseItem{
				{ReferenceImage: DefaultPlaceholderImageURL},
				{ReferenceImage: "https://example.com/real.png"},
			},
		},
	}
	st := newTestStore(t, "U1", entries)
	sender := &fakeSender{}

	New(st, sender, WithClock(fixedClock(12, 0))).Tick(context.Background())

	if len(sender.texts) != 2 {
		t.Fatalf("expected 2 text pushes, got %d", len(sender.texts))
	}
	if len(sender.images) != 1 {
		t.Fatalf("expected 1 image push, got %d", len(sender.images))
	}
	if sender.images[0].original != "https://example.com/real.png" {
		t.Errorf("wrong image pushed: %+v", sender.images[0])
	}
}

func TestTickSubstitutesPlaceholders(t *testing.T) {
	entries := []models.DoseEntry{
		{
			Time:     "07:00",
			Name:     "A",
			Dosage:   "",
			SubItems: []models.DoseItem{{}, {}},
		},
	}
	st := newTestStore(t, "U1", entries)
	sender := &fakeSender{}

	New(st, sender, WithClock(fixedClock(7, 0))).Tick(context.Background())

	if len(sender.texts) != 2 {
		t.Fatalf("expected 2 text pushes, got %d", len(sender.texts))
	}
	if sender.texts[0].body != "提醒您服用藥物：A\n劑量：未知劑量。" {
		t.Errorf("expected dosage placeholder, got %q", sender.texts[0].body)
	}
	if sender.texts[1].body != "接著服用藥物：未知藥品\n劑量：未知劑量。" {
		t.Errorf("expected name and dosage placeholders, got %q", sender.texts[1].body)
	}
}

func TestTickSendFailureDoesNotAbortScan(t *testing.T) {
	entries := []models.DoseEntry{{Time: "10:00", Name: "A", Dosage: "1", SubItems: []models.DoseItem{{}}}}
	st := store.NewInMemoryStore()
	for _, id := range []string{"U1", "U2"} {
		if err := st.AddRosterUser(id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := st.SaveSchedule(id, entries); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	sender := &fakeSender{failTo: map[string]bool{"U1": true}}

	New(st, sender, WithClock(fixedClock(10, 0))).Tick(context.Background())

	if len(sender.texts) != 1 || sender.texts[0].to != "U2" {
		t.Errorf("expected U2 to still receive its reminder, got %+v", sender.texts)
	}
}

// blockingSender stalls text pushes to one user until the send context expires.
type blockingSender struct {
	fakeSender
	stallTo string
}

func (b *blockingSender) SendText(ctx context.Context, to, body string) error {
	if to == b.stallTo {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.fakeSender.SendText(ctx, to, body)
}

func TestTickSendTimeoutFreesStalledPush(t *testing.T) {
	entries := []models.DoseEntry{{Time: "10:00", Name: "A", Dosage: "1", SubItems: []models.DoseItem{{}}}}
	st := store.NewInMemoryStore()
	for _, id := range []string{"U1", "U2"} {
		if err := st.AddRosterUser(id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := st.SaveSchedule(id, entries); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	sender := &blockingSender{stallTo: "U1"}
	d := New(st, sender, WithClock(fixedClock(10, 0)), WithSendTimeout(10*time.Millisecond))

	start := time.Now()
	d.Tick(context.Background())

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick stayed blocked on a stalled push for %v", elapsed)
	}
	if len(sender.texts) != 1 || sender.texts[0].to != "U2" {
		t.Errorf("expected U2 to still receive its reminder after U1 timed out, got %+v", sender.texts)
	}
}

func TestTickSkipsUsersWithoutSchedule(t *testing.T) {
	st := newTestStore(t, "U1", nil)
	sender := &fakeSender{}

	New(st, sender, WithClock(fixedClock(9, 0))).Tick(context.Background())

	if len(sender.texts) != 0 {
		t.Errorf("no pushes expected for a user without a schedule, got %d", len(sender.texts))
	}
}

func TestTickIgnoresMalformedEntryTimes(t *testing.T) {
	entries := []models.DoseEntry{
		{Time: "bogus", Name: "A", Dosage: "1", SubItems: []models.DoseItem{{}}},
		{Time: "09:00", Name: "B", Dosage: "2", SubItems: []models.DoseItem{{}}},
	}
	st := newTestStore(t, "U1", entries)
	sender := &fakeSender{}

	New(st, sender, WithClock(fixedClock(9, 0))).Tick(context.Background())

	if len(sender.texts) != 1 {
		t.Fatalf("expected only the valid entry to fire, got %d pushes", len(sender.texts))
	}
	if sender.texts[0].body != "提醒您服用藥物：B\n劑量：2。" {
		t.Errorf("unexpected reminder: %q", sender.texts[0].body)
	}
}
