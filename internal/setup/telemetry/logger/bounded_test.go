package logger_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenlabs/timewarden/internal/setup/telemetry/logger"
)

func openBounded(t *testing.T, limit int) (*logger.BoundedFile, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "main.log")

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return logger.NewBoundedFile(file, limit, path), path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestBoundedFileTrimsToRecentLines(t *testing.T) {
	t.Parallel()

	bounded, path := openBounded(t, 3)

	// The sixth line crosses twice the limit and triggers the trim.
	for i := 1; i <= 6; i++ {
		_, err := fmt.Fprintf(bounded, "line-%d\n", i)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"line-4", "line-5", "line-6"}, readLines(t, path))

	// Writes after a trim append to the replaced file.
	_, err := fmt.Fprintln(bounded, "line-7")
	require.NoError(t, err)

	assert.Equal(t, []string{"line-4", "line-5", "line-6", "line-7"}, readLines(t, path))
}

func TestBoundedFileHandlesMultiLineWrites(t *testing.T) {
	t.Parallel()

	bounded, path := openBounded(t, 2)

	_, err := bounded.Write([]byte("a\nb\nc\nd\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "d"}, readLines(t, path))
}
