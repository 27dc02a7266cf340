package fetcher

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFixture creates a file with the given content, failing the test on error.
func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
