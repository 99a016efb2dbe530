package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/anontaiwan/medirelay/internal/api"
	"github.com/anontaiwan/medirelay/internal/lockfile"
	"github.com/anontaiwan/medirelay/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MediRelay state data
	DefaultStateDir = "/var/lib/medirelay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "medirelay.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard against a second instance double-sending reminders
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping MediRelay with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "backend", *flags.backend)
	if err := api.Run(apiOpts...); err != nil {
		slog.Error("MediRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MediRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	APIAddr          string
	ChannelSecret    string
	ChannelToken     string
	CORSOrigins      string
	DefaultImageURL  string
	Backend          string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	DispatchOnStart  bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	apiAddr         *string
	channelSecret   *string
	channelToken    *string
	corsOrigins     *string
	defaultImageURL *string
	backend         *string
	twilioSID       *string
	twilioToken     *string
	twilioFrom      *string
	dispatchOnStart *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("MEDIRELAY_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		ChannelSecret:    os.Getenv("LINE_CHANNEL_SECRET"),
		ChannelToken:     os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		CORSOrigins:      os.Getenv("CORS_ALLOWED_ORIGINS"),
		DefaultImageURL:  os.Getenv("DEFAULT_IMAGE_URL"),
		Backend:          os.Getenv("MESSAGING_BACKEND"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		DispatchOnStart:  util.ParseBoolEnv("DISPATCH_ON_START", true),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MEDIRELAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("MEDIRELAY_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MEDIRELAY_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"LINE_CHANNEL_SECRET_SET", config.ChannelSecret != "",
		"LINE_CHANNEL_ACCESS_TOKEN_SET", config.ChannelToken != "",
		"CORS_ALLOWED_ORIGINS", config.CORSOrigins,
		"MESSAGING_BACKEND", config.Backend,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"DISPATCH_ON_START", config.DispatchOnStart)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for MediRelay data (overrides $MEDIRELAY_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the schedule store (overrides $DATABASE_URL)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channelSecret:   flag.String("line-channel-secret", config.ChannelSecret, "LINE channel secret (overrides $LINE_CHANNEL_SECRET)"),
		channelToken:    flag.String("line-channel-token", config.ChannelToken, "LINE channel access token (overrides $LINE_CHANNEL_ACCESS_TOKEN)"),
		corsOrigins:     flag.String("cors-allowed-origins", config.CORSOrigins, "comma-separated CORS allow-list (overrides $CORS_ALLOWED_ORIGINS)"),
		defaultImageURL: flag.String("default-image-url", config.DefaultImageURL, "placeholder medication image URL (overrides $DEFAULT_IMAGE_URL)"),
		backend:         flag.String("messaging-backend", config.Backend, "messaging backend, line or twilio (overrides $MESSAGING_BACKEND)"),
		twilioSID:       flag.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:     flag.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:      flag.String("twilio-from-number", config.TwilioFromNumber, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)"),
		dispatchOnStart: flag.Bool("dispatch-on-start", config.DispatchOnStart, "run one dispatch scan immediately at startup (overrides $DISPATCH_ON_START)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"channelSecretSet", *flags.channelSecret != "",
		"channelTokenSet", *flags.channelToken != "",
		"corsOrigins", *flags.corsOrigins,
		"backend", *flags.backend,
		"dispatchOnStart", *flags.dispatchOnStart)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "postgresql://") && !strings.Contains(*flags.dbDSN, "host=") {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "db_dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "db_dir", dbDir)
			return err
		}
	}
	return nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.dbDSN != "" {
		apiOpts = append(apiOpts, api.WithDSN(*flags.dbDSN))
	}
	if *flags.corsOrigins != "" {
		origins := strings.Split(*flags.corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		apiOpts = append(apiOpts, api.WithCORSAllowedOrigins(origins))
	}
	if *flags.defaultImageURL != "" {
		apiOpts = append(apiOpts, api.WithDefaultImageURL(*flags.defaultImageURL))
	}
	if *flags.channelSecret != "" || *flags.channelToken != "" {
		apiOpts = append(apiOpts, api.WithLineCredentials(*flags.channelSecret, *flags.channelToken))
	}
	if *flags.twilioSID != "" || *flags.twilioToken != "" || *flags.twilioFrom != "" {
		apiOpts = append(apiOpts, api.WithTwilioCredentials(*flags.twilioSID, *flags.twilioToken, *flags.twilioFrom))
	}
	if *flags.backend != "" {
		apiOpts = append(apiOpts, api.WithMessagingBackend(api.MessagingBackend(strings.ToLower(*flags.backend))))
	}
	// Always forwarded so a false value can override api.Run's default.
	apiOpts = append(apiOpts, api.WithDispatchOnStart(*flags.dispatchOnStart))
	return apiOpts
}
