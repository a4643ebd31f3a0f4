package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigFiles(t *testing.T) {
	t.Parallel()

	t.Run("no files", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, findConfigFiles(t.TempDir()))
	})

	t.Run("precedence follows candidate order", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chatrelay.json"), []byte("{}"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chatrelay.yaml"), []byte(""), 0644))

		found := findConfigFiles(dir)
		require.Len(t, found, 2)
		assert.Equal(t, filepath.Join(dir, "chatrelay.yaml"), found[0])
		assert.Equal(t, filepath.Join(dir, "chatrelay.json"), found[1])
	})
}

func TestParserFor(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, parserFor("a.yml"))
	assert.NotNil(t, parserFor("a.YAML"))
	assert.NotNil(t, parserFor("a.toml"))
	assert.NotNil(t, parserFor("a.json"))
	assert.Nil(t, parserFor("a.ini"))
	assert.Nil(t, parserFor("chatrelay"))
}
