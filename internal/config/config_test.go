package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var (
		baseURL = "https://backend.example.com/rest/v1"
		dsn     = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key     = "c29tZV9zZWNyZXQ="
	)

	tcases := []struct {
		name    string
		driver  string
		baseURL string
		dsn     string
		key     string
		err     bool
	}{
		{
			name:    "valid http config",
			driver:  DriverHTTP,
			baseURL: baseURL,
			err:     false,
		},
		{
			name:   "valid postgres config",
			driver: DriverPostgres,
			dsn:    dsn,
			key:    key,
			err:    false,
		},
		{
			name:   "http without base URL",
			driver: DriverHTTP,
			err:    true,
		},
		{
			name:   "postgres without DSN",
			driver: DriverPostgres,
			key:    key,
			err:    true,
		},
		{
			name:   "postgres without signing secret",
			driver: DriverPostgres,
			dsn:    dsn,
			err:    true,
		},
		{
			name:    "unknown driver",
			driver:  "ftp",
			baseURL: baseURL,
			err:     true,
		},
		{
			name:    "bad signing secret encoding",
			driver:  DriverPostgres,
			dsn:     dsn,
			key:     "not base64!!!",
			err:     true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := New("", tc.driver, tc.baseURL, tc.dsn, "", tc.key, "", "")
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.driver, cfg.RemoteDriver)
		})
	}
}

func TestNewDecodesSigningSecret(t *testing.T) {
	cfg, err := New("", DriverPostgres, "", "dbname=postgres", "", "c29tZV9zZWNyZXQ=", "", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("some_secret"), cfg.SigningKey)
}
