// Package models defines the core data structures for medirelay.
//
// It includes the medication schedule types shared between the ingestion API,
// the persistence layer, and the notification dispatcher, plus the common
// JSON response envelope used by the HTTP surface.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrMissingUserID    = errors.New("missing user_id")
	ErrMissingQuery     = errors.New("missing query content")
	ErrEmptyPatientName = errors.New("patient name is required")
	ErrInvalidTimeOfDay = errors.New("time of day must be in HH:MM format")
)

// DoseItem is a single pill inside a dose entry. ReferenceImage carries the
// public HTTPS URL of the pill photo shown in the reminder push.
type DoseItem struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	Dosage         string `json:"dosage,omitempty"`
	ReferenceImage string `json:"referenceImage,omitempty"`
	NHICode        string `json:"nhiCode,omitempty"`
}

// DoseEntry is one scheduled medication administration event. Name and Dosage
// are comma-joined lists parallel to SubItems by index; the dispatcher splits
// them before formatting reminder texts.
type DoseEntry struct {
	ID        string     `json:"id,omitempty"`
	Time      string     `json:"time"`
	Type      string     `json:"type,omitempty"`
	AudioNote string     `json:"audioNote,omitempty"`
	Name      string     `json:"name,omitempty"`
	Dosage    string     `json:"dosage,omitempty"`
	SubItems  []DoseItem `json:"subItems,omitempty"`
	CreatedAt int64      `json:"createdAt,omitempty"`
}

// TimeOfDay parses the entry's Time field ("HH:MM").
func (e *DoseEntry) TimeOfDay() (hour, minute int, err error) {
	t, err := time.Parse("15:04", e.Time)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, e.Time)
	}
	return t.Hour(), t.Minute(), nil
}

// MatchesMinute reports whether the entry's time of day equals the wall-clock
// hour and minute of now. Entries with malformed times never match.
func (e *DoseEntry) MatchesMinute(now time.Time) bool {
	hour, minute, err := e.TimeOfDay()
	if err != nil {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

// WebToBotRequest is the payload of POST /api/web-to-bot. Query is the
// schedule payload as encoded by the web front end (see ParseScheduleQuery).
type WebToBotRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// Validate checks the required ingestion fields.
func (r *WebToBotRequest) Validate() error {
	if r.UserID == "" {
		return ErrMissingUserID
	}
	if r.Query == "" {
		return ErrMissingQuery
	}
	return nil
}

// SearchPatientRequest is the payload of POST /api/search-patient.
type SearchPatientRequest struct {
	Name string `json:"name"`
}

// SearchPatientResult is the success body of POST /api/search-patient.
type SearchPatientResult struct {
	Found      bool   `json:"found"`
	Name       string `json:"name,omitempty"`
	LineUserID string `json:"lineUserId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusSuccess indicates an API request completed successfully.
	APIStatusSuccess APIStatus = "success"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for the ingestion endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusSuccess).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
