package models

import (
	"errors"
	"testing"
)

func TestParseScheduleQueryDirectArray(t *testing.T) {
	query := `[{"time":"08:30","name":"A,B","dosage":"1,2","subItems":[{"referenceImage":"https://example.com/a.png"},{"referenceImage":"https://example.com/b.png"}]}]`
	entries, err := ParseScheduleQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Time != "08:30" || e.Name != "A,B" || e.Dosage != "1,2" {
		t.Errorf("entry fields not preserved: %+v", e)
	}
	if len(e.SubItems) != 2 || e.SubItems[1].ReferenceImage != "https://example.com/b.png" {
		t.Errorf("sub-items not preserved: %+v", e.SubItems)
	}
}

func TestParseScheduleQueryLegacyWrapped(t *testing.T) {
	// The legacy front end escapes the inner quotes of the pseudo-array.
	query := `[{\"time\":\"09:00\",\"name\":\"A\",\"dosage\":\"1\"}]`
	entries, err := ParseScheduleQuery(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Time != "09:00" || entries[0].Name != "A" {
		t.Errorf("legacy payload not unwrapped correctly: %+v", entries)
	}
}

func TestParseScheduleQueryMalformed(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"truncated", `[{"time":"08:00"`},
		{"not an array", `{"time":"08:00"}`},
		{"single char", "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseScheduleQuery(tc.query); err == nil {
				t.Errorf("expected error for %q", tc.query)
			}
		})
	}
}

func TestParseScheduleQueryEmptyError(t *testing.T) {
	_, err := ParseScheduleQuery("")
	if !errors.Is(err, ErrMissingQuery) {
		t.Errorf("expected ErrMissingQuery, got %v", err)
	}
}
