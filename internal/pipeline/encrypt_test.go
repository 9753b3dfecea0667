package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/bakctl/internal/backup"
)

func TestEncryptRoundTrip(t *testing.T) {
	payload := []byte("dump bytes worth protecting")
	input := writeTestFile(t, "artifact.zst", payload)

	encrypted, keyRef, err := Encrypt(input, "correct horse", 10_000)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(keyRef, "pbkdf2-sha256$10000$"),
		"key reference must carry the KDF descriptor, got %q", keyRef)
	assert.NotContains(t, keyRef, "correct horse")

	sealed, err := os.ReadFile(encrypted)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "dump bytes", "plaintext must not leak into the artifact")

	out := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, Decrypt(encrypted, "correct horse", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	input := writeTestFile(t, "artifact", []byte("secret"))
	encrypted, _, err := Encrypt(input, "right", 10_000)
	require.NoError(t, err)

	err = Decrypt(encrypted, "wrong", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrIntegrity)
}

func TestDecryptTamperedPayload(t *testing.T) {
	input := writeTestFile(t, "artifact", []byte("secret"))
	encrypted, _, err := Encrypt(input, "pass", 10_000)
	require.NoError(t, err)

	data, err := os.ReadFile(encrypted)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(encrypted, data, 0o600))

	err = Decrypt(encrypted, "pass", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrIntegrity)
}

func TestDecryptRejectsForeignBytes(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     {},
		"too short": []byte("BKC1"),
		"bad magic": append([]byte("NOPE"), make([]byte, 64)...),
	} {
		t.Run(name, func(t *testing.T) {
			input := writeTestFile(t, "artifact", data)
			err := Decrypt(input, "pass", filepath.Join(t.TempDir(), "out"))
			require.Error(t, err)
			assert.ErrorIs(t, err, backup.ErrIntegrity)
		})
	}
}

func TestEncryptRoundTripMultiChunk(t *testing.T) {
	// Larger than two chunks so the stream crosses chunk boundaries.
	payload := bytes.Repeat([]byte("0123456789abcdef"), (2*chunkSize+chunkSize/2)/16)
	input := writeTestFile(t, "artifact", payload)

	encrypted, _, err := Encrypt(input, "pass", 10_000)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, Decrypt(encrypted, "pass", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEncryptRoundTripEmptyInput(t *testing.T) {
	input := writeTestFile(t, "artifact", nil)

	encrypted, _, err := Encrypt(input, "pass", 10_000)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, Decrypt(encrypted, "pass", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecryptTruncatedStream(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), chunkSize+512)
	input := writeTestFile(t, "artifact", payload)
	encrypted, _, err := Encrypt(input, "pass", 10_000)
	require.NoError(t, err)

	data, err := os.ReadFile(encrypted)
	require.NoError(t, err)

	// Cutting off the final chunk must not yield a shorter "valid" artifact.
	truncated := writeTestFile(t, "truncated", data[:len(data)-300])
	err = Decrypt(truncated, "pass", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrIntegrity)

	// Neither must trailing garbage after it.
	extended := writeTestFile(t, "extended", append(data, 0x00))
	err = Decrypt(extended, "pass", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrIntegrity)
}

func TestEncryptUsesFreshSaltPerArtifact(t *testing.T) {
	input := writeTestFile(t, "artifact", []byte("same bytes"))

	_, ref1, err := Encrypt(input, "pass", 10_000)
	require.NoError(t, err)
	_, ref2, err := Encrypt(input, "pass", 10_000)
	require.NoError(t, err)

	assert.NotEqual(t, ref1, ref2, "two encryptions of the same input must not share a salt")
}
