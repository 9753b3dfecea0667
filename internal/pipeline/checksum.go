package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kebairia/bakctl/internal/backup"
)

// Checksum streams the file at path through SHA-256 and returns the hex
// digest. The pipeline hashes the final artifact bytes, after compression
// and encryption, because that is what is stored and later fetched.
func Checksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// VerifyChecksum re-hashes path and compares against expected. A mismatch
// is an integrity error, fatal to any restore attempt.
func VerifyChecksum(path, expected string) error {
	actual, err := Checksum(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: checksum mismatch for %q", backup.ErrIntegrity, path)
	}
	return nil
}
