package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short text", snippet("short   text", 50))
	assert.Equal(t, "a b", snippet("a\nb", 50))

	long := strings.Repeat("word ", 100)
	got := snippet(long, 20)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), 23)
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runbook.md")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0600))

	content, name, err := readDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(content))
	assert.Equal(t, "runbook.md", name)

	_, _, err = readDocument(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}
