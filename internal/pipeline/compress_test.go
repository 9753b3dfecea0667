package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/bakctl/internal/backup"
)

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("backup payload line\n"), 500)

	for _, algo := range []backup.Compression{
		backup.CompressionGzip,
		backup.CompressionZstd,
		backup.CompressionLZ4,
	} {
		t.Run(string(algo), func(t *testing.T) {
			input := writeTestFile(t, "dump.sql", payload)

			compressed, used, err := Compress(input, algo)
			require.NoError(t, err)
			assert.Equal(t, algo, used)
			assert.NotEqual(t, input, compressed)

			info, err := os.Stat(compressed)
			require.NoError(t, err)
			assert.Less(t, info.Size(), int64(len(payload)))

			restored, err := Decompress(compressed, used, filepath.Join(t.TempDir(), "out"))
			require.NoError(t, err)

			got, err := os.ReadFile(restored)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestCompressNonePassesThrough(t *testing.T) {
	input := writeTestFile(t, "dump.sql", []byte("raw"))

	out, used, err := Compress(input, backup.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Equal(t, backup.CompressionNone, used)

	restored, err := Decompress(out, used, filepath.Join(t.TempDir(), "ignored"))
	require.NoError(t, err)
	assert.Equal(t, out, restored)
}

func TestCompressUnknownFallsBackToGzip(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)
	input := writeTestFile(t, "dump.sql", payload)

	compressed, used, err := Compress(input, backup.Compression("SNAPPY"))
	require.NoError(t, err)
	assert.Equal(t, backup.CompressionGzip, used, "fallback must be reported, not the requested algorithm")

	restored, err := Decompress(compressed, used, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecompressBadStream(t *testing.T) {
	garbage := writeTestFile(t, "artifact.gz", []byte("not a gzip stream"))

	_, err := Decompress(garbage, backup.CompressionGzip, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrIntegrity)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.5, Ratio(50, 100))
	assert.Equal(t, 0.0, Ratio(50, 0))
}
