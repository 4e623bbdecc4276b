package zstdutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"owner":"alice","scores":{"alice":{"score":3,"wins":1}}}`), 50)
	for _, level := range []CompressionLevel{LevelFastest, LevelDefault, LevelBetter, LevelBest} {
		compressed, err := Compress(payload, level)
		require.NoError(t, err)
		require.Less(t, len(compressed), len(payload))

		out, err := Decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, payload, out)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not a zstd frame"))
	require.Error(t, err)
}
