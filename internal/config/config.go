package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Remote driver names.
const (
	DriverHTTP     = "http"
	DriverPostgres = "postgres"
)

type Config struct {
	// LocalDBPath is the sqlite cache file. Empty means in-memory.
	LocalDBPath string

	// RemoteDriver selects the backend: "http" or "postgres".
	RemoteDriver string

	// RemoteBaseURL is the REST backend's base URL (http driver).
	RemoteBaseURL string

	// RemoteDSN is the backend connection string (postgres driver).
	RemoteDSN string

	// FeedURL is the websocket change feed endpoint (http driver). The
	// postgres driver derives its feed from RemoteDSN.
	FeedURL string

	// SigningKey verifies and mints session tokens (postgres driver).
	SigningKey []byte

	// DebugAddr serves health and debug endpoints when non-empty.
	DebugAddr string

	// LogFile enables rotating file logging when non-empty.
	LogFile string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// New validates raw settings into a Config.
func New(localDBPath, remoteDriver, remoteBaseURL, remoteDSN, feedURL, base64Secret, debugAddr, logFile string) (*Config, error) {
	cfg := &Config{
		LocalDBPath:   localDBPath,
		RemoteDriver:  remoteDriver,
		RemoteBaseURL: remoteBaseURL,
		RemoteDSN:     remoteDSN,
		FeedURL:       feedURL,
		DebugAddr:     debugAddr,
		LogFile:       logFile,
	}

	switch remoteDriver {
	case DriverHTTP:
		if remoteBaseURL == "" {
			return nil, fmt.Errorf("remote base URL cannot be empty with the http driver")
		}
	case DriverPostgres:
		if remoteDSN == "" {
			return nil, fmt.Errorf("remote DSN cannot be empty with the postgres driver")
		}
		if base64Secret == "" {
			return nil, fmt.Errorf("signing secret cannot be empty with the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown remote driver %q", remoteDriver)
	}

	if base64Secret != "" {
		key, err := decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
		cfg.SigningKey = key
	}

	return cfg, nil
}

// FromEnv builds a Config from SYNCDESK_* environment variables, loading
// a .env file first when one exists.
func FromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	driver := os.Getenv("SYNCDESK_REMOTE_DRIVER")
	if driver == "" {
		driver = DriverHTTP
	}

	return New(
		os.Getenv("SYNCDESK_LOCAL_DB"),
		driver,
		os.Getenv("SYNCDESK_REMOTE_URL"),
		os.Getenv("SYNCDESK_REMOTE_DSN"),
		os.Getenv("SYNCDESK_FEED_URL"),
		os.Getenv("SYNCDESK_SIGNING_SECRET"),
		os.Getenv("SYNCDESK_DEBUG_ADDR"),
		os.Getenv("SYNCDESK_LOG_FILE"),
	)
}
