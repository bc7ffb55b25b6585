package sqlc

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// generatedHeader is the marker Go tooling uses to skip generated files.
var generatedHeader = regexp.MustCompile(
	`(?m)^// Code generated .* DO NOT EDIT\.$`,
)

// TestQueriesNotMarkedGenerated makes sure the hand maintained query code
// isn't hidden from linters and reviewers as generated output.
func TestQueriesNotMarkedGenerated(t *testing.T) {
	entries, err := os.ReadDir(".")
	require.NoError(t, err)

	var checked int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") ||
			strings.HasSuffix(name, "_test.go") {

			continue
		}

		src, err := os.ReadFile(name)
		require.NoError(t, err)
		require.False(
			t, generatedHeader.Match(src), "%s is marked generated",
			name,
		)
		checked++
	}
	require.NotZero(t, checked)
}
