package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"discovered to downloading", StatusDiscovered, StatusDownloading, true},
		{"discovered to download_pending", StatusDiscovered, StatusDownloadPending, true},
		{"download_pending to downloading", StatusDownloadPending, StatusDownloading, true},
		{"downloading to pending", StatusDownloading, StatusPending, true},
		{"downloading to recrawl", StatusDownloading, StatusRecrawl, true},
		{"downloading to failed", StatusDownloading, StatusFailed, true},
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to schema_mismatch", StatusProcessing, StatusSchemaMismatch, true},
		{"processing to skipped", StatusProcessing, StatusSkipped, true},
		{"import_error retry", StatusImportError, StatusProcessing, true},
		{"failed retry", StatusFailed, StatusDownloading, true},
		{"recrawl repaired", StatusRecrawl, StatusDiscovered, true},
		{"skip download stage", StatusDiscovered, StatusProcessing, false},
		{"skip import stage", StatusPending, StatusCompleted, false},
		{"completed is terminal", StatusCompleted, StatusProcessing, false},
		{"skipped is terminal", StatusSkipped, StatusProcessing, false},
		{"no backwards move", StatusPending, StatusDownloading, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(StatusCompleted))
	require.True(t, IsTerminal(StatusSkipped))
	require.False(t, IsTerminal(StatusImportError))
	require.False(t, IsTerminal(StatusFailed))
}

func TestIsResettable(t *testing.T) {
	for _, s := range []Status{StatusFailed, StatusRecrawl, StatusImportError, StatusSchemaMismatch} {
		require.True(t, IsResettable(s), "status %s", s)
	}
	for _, s := range []Status{StatusDiscovered, StatusDownloading, StatusProcessing, StatusCompleted} {
		require.False(t, IsResettable(s), "status %s", s)
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("import_error")
	require.True(t, ok)
	require.Equal(t, StatusImportError, s)

	_, ok = ParseStatus("bogus")
	require.False(t, ok)
}
