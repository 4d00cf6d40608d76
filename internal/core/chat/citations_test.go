package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCitationsDeduplicates(t *testing.T) {
	got := ExtractCitations("Answer [Doc A, page 3] more [Doc A, page 3] and [Doc B]")
	require.Len(t, got, 2)

	assert.Equal(t, "Doc A", got[0].Title)
	require.NotNil(t, got[0].Page)
	assert.Equal(t, 3, *got[0].Page)

	assert.Equal(t, "Doc B", got[1].Title)
	assert.Nil(t, got[1].Page)
}

func TestExtractCitationsVariants(t *testing.T) {
	got := ExtractCitations("See [Notes, p. 12], [Notes], [Notes, page 12] and [a link](https://x.test).")
	require.Len(t, got, 2)
	assert.Equal(t, "Notes", got[0].Title)
	assert.Equal(t, 12, *got[0].Page)
	assert.Equal(t, "Notes", got[1].Title)
	assert.Nil(t, got[1].Page)
}

func TestExtractCitationsNone(t *testing.T) {
	assert.Empty(t, ExtractCitations("No references here."))
	assert.Empty(t, ExtractCitations("[ ]"))
}
