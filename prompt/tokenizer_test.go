package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokenizerFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	vocab := `{
		"<|startoftext|>": 0,
		"<|endoftext|>": 1,
		"c": 2, "a": 3, "t": 4,
		"at": 5, "cat": 6, "cat</w>": 7,
		"d": 8, "o": 9, "g": 10,
		"</w>": 11
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.json"), []byte(vocab), 0o644))

	merges := "#version: 0.2\na t\nc at\ncat </w>\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(merges), 0o644))
	return dir
}

func TestTokenizerEncode(t *testing.T) {
	tok, err := LoadTokenizer(writeTokenizerFixture(t))
	require.NoError(t, err)

	ids := tok.Encode("cat")
	require.Len(t, ids, 77, "padded to max length")
	assert.Equal(t, tok.BOS, ids[0])
	assert.Equal(t, 7, ids[1]) // "cat</w>"
	for _, id := range ids[2:] {
		assert.Equal(t, tok.EOS, id)
	}
}

func TestTokenizerDecode(t *testing.T) {
	tok, err := LoadTokenizer(writeTokenizerFixture(t))
	require.NoError(t, err)

	assert.Equal(t, "cat", tok.Decode([]int{tok.BOS, 7, tok.EOS}))
	assert.Equal(t, "cat cat", tok.Decode([]int{tok.BOS, 7, 7, tok.EOS, tok.EOS}))
}

func TestTokenizerEncodeDecodeRoundTrip(t *testing.T) {
	tok, err := LoadTokenizer(writeTokenizerFixture(t))
	require.NoError(t, err)
	assert.Equal(t, "cat cat", tok.Decode(tok.Encode("cat CAT")))
}

func TestLoadTokenizerMissingFiles(t *testing.T) {
	_, err := LoadTokenizer(t.TempDir())
	assert.Error(t, err)
}
