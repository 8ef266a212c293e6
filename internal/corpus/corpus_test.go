package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		TrainFile: "the cat sat\non the mat\n",
		ValidFile: "the dog sat\n",
		TestFile:  "a cat\x07 ran\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestDictionary(t *testing.T) {
	d := NewDictionary()
	assert.Equal(t, 0, d.Add("a"))
	assert.Equal(t, 1, d.Add("b"))
	assert.Equal(t, 0, d.Add("a"))
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "b", d.Word(1))

	_, ok := d.ID("c")
	assert.False(t, ok)

	rebuilt := DictionaryFrom(d.Words())
	id, ok := rebuilt.ID("b")
	assert.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"simple", "the cat  sat", []string{"the", "cat", "sat", EOS}},
		{"empty", "", []string{EOS}},
		{"control runes", "bell\x07 ring", []string{"bell", "ring", EOS}},
		{"tabs split", "a\tb", []string{"a", "b", EOS}},
		{"nfc", "café", []string{"café", EOS}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.line))
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load(writeCorpus(t))
	require.NoError(t, err)

	// the cat sat <eos> on the mat <eos>
	assert.Equal(t, []int{0, 1, 2, 3, 4, 0, 5, 3}, c.Train)
	dog, ok := c.Dict.ID("dog")
	require.True(t, ok)
	assert.Equal(t, []int{0, dog, 2, 3}, c.Valid)
	assert.Len(t, c.Test, 4)
	assert.Equal(t, 9, c.Dict.Len())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestArrowCache(t *testing.T) {
	c, err := Load(writeCorpus(t))
	require.NoError(t, err)

	cache := filepath.Join(t.TempDir(), "cache")
	_, err = LoadArrow(cache)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, SaveArrow(cache, c))
	got, err := LoadArrow(cache)
	require.NoError(t, err)

	assert.Equal(t, c.Dict.Words(), got.Dict.Words())
	assert.Equal(t, c.Train, got.Train)
	assert.Equal(t, c.Valid, got.Valid)
	assert.Equal(t, c.Test, got.Test)
}
