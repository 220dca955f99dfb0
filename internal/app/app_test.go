package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewFailsOnMissingConfigFile(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestNewFailsOnInvalidConfig(t *testing.T) {
	// base_url is required; Load must reject before any service starts.
	path := writeConfig(t, "db:\n  dsn: postgres://localhost/records\n")
	_, err := New(context.Background(), path)
	require.ErrorContains(t, err, "crawler.base_url")
}

func TestNewFailsOnMalformedDSN(t *testing.T) {
	path := writeConfig(t, `
crawler:
  base_url: https://records.example
db:
  dsn: "://not-a-dsn"
`)
	_, err := New(context.Background(), path)
	require.ErrorContains(t, err, "db.dsn")
}
