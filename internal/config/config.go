package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds the fully processed player configuration.
type Config struct {
	// UserID identifies the listener against the tracking service.
	UserID string
	// UserAgent is sent on every outbound request.
	UserAgent string
	// PlaylistURL is the base URL of the playlist service.
	PlaylistURL string
	// ContentURL is the base URL of the segment content service.
	ContentURL string
	// LibraryURL is the base URL of the chapter listing service.
	LibraryURL string
	// TrackingURL is the base URL of the tracking service.
	TrackingURL string
	// Bitrate is the preferred variant identifier; empty means the
	// origin's default selection.
	Bitrate string
	// RequestTimeout bounds each individual HTTP request.
	RequestTimeout time.Duration
	LogLevel       string
}

// rawConfig is the intermediate structure that maps directly to the JSON file.
type rawConfig struct {
	UserID         string `json:"UserId"`
	UserAgent      string `json:"UserAgent"`
	PlaylistURL    string `json:"PlaylistUrl"`
	ContentURL     string `json:"ContentUrl"`
	LibraryURL     string `json:"LibraryUrl"`
	TrackingURL    string `json:"TrackingUrl"`
	Bitrate        string `json:"Bitrate"`
	RequestTimeout string `json:"RequestTimeout"` // Go duration string, e.g. "5s"
	LogLevel       string `json:"LogLevel"`
}

// LoadConfig reads and parses the configuration file from the given path.
// Missing optional fields fall back to sensible defaults; the service URLs
// are mandatory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var rawCfg rawConfig
	if err := json.Unmarshal(data, &rawCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	for name, v := range map[string]string{
		"PlaylistUrl": rawCfg.PlaylistURL,
		"ContentUrl":  rawCfg.ContentURL,
		"LibraryUrl":  rawCfg.LibraryURL,
		"TrackingUrl": rawCfg.TrackingURL,
	} {
		if v == "" {
			return nil, fmt.Errorf("config field '%s' must not be empty", name)
		}
	}

	timeout := 5 * time.Second
	if rawCfg.RequestTimeout != "" {
		timeout, err = time.ParseDuration(rawCfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid RequestTimeout '%s': %w", rawCfg.RequestTimeout, err)
		}
	}

	logLevel := rawCfg.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		UserID:         rawCfg.UserID,
		UserAgent:      rawCfg.UserAgent,
		PlaylistURL:    rawCfg.PlaylistURL,
		ContentURL:     rawCfg.ContentURL,
		LibraryURL:     rawCfg.LibraryURL,
		TrackingURL:    rawCfg.TrackingURL,
		Bitrate:        rawCfg.Bitrate,
		RequestTimeout: timeout,
		LogLevel:       logLevel,
	}, nil
}
