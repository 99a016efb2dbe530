package main

import (
	"testing"

	"github.com/anontaiwan/medirelay/internal/api"
)

func stringPtr(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }

func testFlags(dispatchOnStart bool) Flags {
	return Flags{
		stateDir:        stringPtr("/tmp/medirelay-test"),
		dbDSN:           stringPtr(""),
		apiAddr:         stringPtr(""),
		channelSecret:   stringPtr(""),
		channelToken:    stringPtr(""),
		corsOrigins:     stringPtr(""),
		defaultImageURL: stringPtr(""),
		backend:         stringPtr(""),
		twilioSID:       stringPtr(""),
		twilioToken:     stringPtr(""),
		twilioFrom:      stringPtr(""),
		dispatchOnStart: boolPtr(dispatchOnStart),
	}
}

func TestBuildAPIOptionsDispatchOnStartOverridesDefault(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		// api.Run enables the startup scan unless told otherwise, so the
		// built options must carry the flag value either way.
		cfg := api.Opts{DispatchOnStart: true}
		for _, opt := range buildAPIOptions(testFlags(enabled)) {
			opt(&cfg)
		}
		if cfg.DispatchOnStart != enabled {
			t.Errorf("dispatch-on-start=%v: effective DispatchOnStart=%v", enabled, cfg.DispatchOnStart)
		}
	}
}

func TestBuildAPIOptionsSplitsCORSOrigins(t *testing.T) {
	flags := testFlags(true)
	flags.corsOrigins = stringPtr("https://a.example.com, https://b.example.com")

	cfg := api.Opts{}
	for _, opt := range buildAPIOptions(flags) {
		opt(&cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSAllowedOrigins)
	}
}
