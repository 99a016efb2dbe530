// Package models defines the core data structures for medirelay.
//
// This file implements parsing of the schedule payload submitted by the web
// front end through the ingestion endpoint.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseScheduleQuery decodes the `query` field of an ingestion request into
// dose entries.
//
// The canonical format is a plain JSON array of dose entries. The legacy
// front end double-encodes the payload (the array arrives with its quotes
// escaped), so when direct decoding fails the legacy unwrap transform is
// applied before a second attempt: strip the first and last character,
// unescape `\"`, and re-wrap in brackets.
func ParseScheduleQuery(query string) ([]DoseEntry, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, ErrMissingQuery
	}

	var entries []DoseEntry
	if err := json.Unmarshal([]byte(trimmed), &entries); err == nil {
		return entries, nil
	}

	unwrapped, err := unwrapLegacyQuery(trimmed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(unwrapped), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse schedule payload: %w", err)
	}
	return entries, nil
}

// unwrapLegacyQuery undoes the double encoding applied by the legacy front
// end. The payload arrives as a pseudo-array whose inner JSON has escaped
// quotes; stripping the outer characters and unescaping yields the element
// list, which is re-wrapped into a well-formed array.
func unwrapLegacyQuery(query string) (string, error) {
	if len(query) < 2 {
		return "", fmt.Errorf("schedule payload too short to unwrap: %q", query)
	}
	inner := strings.ReplaceAll(query[1:len(query)-1], `\"`, `"`)
	return "[" + inner + "]", nil
}
