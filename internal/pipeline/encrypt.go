package pipeline

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kebairia/bakctl/internal/backup"
)

// Artifact layout: magic || version || iterations || salt || nonce prefix,
// then a sequence of chunks, each "flag byte || 4-byte ciphertext length ||
// AES-256-GCM ciphertext". The chunk counter rides in the nonce and the
// flag byte in the associated data, so reordering, truncating or extending
// the stream fails authentication just like flipping payload bits. Any
// corruption surfaces as one generic integrity error so validation reveals
// nothing about which part failed.
var encMagic = []byte("BKC1")

const (
	encVersion      = 0x01
	saltSize        = 16
	noncePrefixSize = 4
	nonceSize       = 12
	keySize         = 32
	kdfIterations   = 200_000
	encExtension    = ".enc"

	// Chunked so multi-GB artifacts never live in memory whole.
	chunkSize   = 1 << 20
	gcmOverhead = 16

	chunkFlagMore  = 0x00
	chunkFlagFinal = 0x01

	// sane bounds for the cost read back from the header
	minIterations = 10_000
	maxIterations = 10_000_000
)

func deriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

// KeyRef builds the opaque reference stored beside the artifact instead of
// the passphrase: the KDF descriptor plus the per-artifact salt.
func KeyRef(salt []byte, iterations int) string {
	return fmt.Sprintf("pbkdf2-sha256$%d$%s", iterations,
		base64.StdEncoding.EncodeToString(salt))
}

func chunkNonce(prefix []byte, counter uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, prefix)
	binary.BigEndian.PutUint64(nonce[noncePrefixSize:], counter)
	return nonce
}

// Encrypt seals inputPath with AES-256-GCM under a key derived from
// passphrase, using a fresh random salt and nonce prefix per artifact. The
// input is processed in chunks and never read whole. It returns the output
// path and the key reference to record; the passphrase itself is never
// persisted.
func Encrypt(inputPath, passphrase string, iterations int) (string, string, error) {
	if iterations <= 0 {
		iterations = kdfIterations
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	noncePrefix := make([]byte, noncePrefixSize)
	if _, err := rand.Read(noncePrefix); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := newAEAD(passphrase, salt, iterations)
	if err != nil {
		return "", "", err
	}

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", "", fmt.Errorf("open input %q: %w", inputPath, err)
	}
	defer inFile.Close()

	outputPath := inputPath + encExtension
	outFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", "", fmt.Errorf("create output %q: %w", outputPath, err)
	}
	defer outFile.Close()

	if err := sealStream(outFile, inFile, aead, salt, noncePrefix, iterations); err != nil {
		os.Remove(outputPath)
		return "", "", err
	}
	return outputPath, KeyRef(salt, iterations), nil
}

func sealStream(dest io.Writer, src io.Reader, aead cipher.AEAD, salt, noncePrefix []byte, iterations int) error {
	out := bufio.NewWriter(dest)
	out.Write(encMagic)
	out.WriteByte(encVersion)
	iterBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(iterBytes, uint32(iterations))
	out.Write(iterBytes)
	out.Write(salt)
	out.Write(noncePrefix)

	in := bufio.NewReader(src)
	buf := make([]byte, chunkSize)
	lenBytes := make([]byte, 4)
	var counter uint64
	final := false
	for !final {
		n, err := io.ReadFull(in, buf)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			final = true
		case err != nil:
			return fmt.Errorf("read plaintext: %w", err)
		default:
			if _, peekErr := in.Peek(1); peekErr == io.EOF {
				final = true
			}
		}

		flag := byte(chunkFlagMore)
		if final {
			flag = chunkFlagFinal
		}
		sealed := aead.Seal(nil, chunkNonce(noncePrefix, counter), buf[:n], []byte{flag})
		out.WriteByte(flag)
		binary.BigEndian.PutUint32(lenBytes, uint32(len(sealed)))
		out.Write(lenBytes)
		if _, err := out.Write(sealed); err != nil {
			return fmt.Errorf("write ciphertext: %w", err)
		}
		counter++
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush ciphertext: %w", err)
	}
	return nil
}

// Decrypt opens an artifact produced by Encrypt, streaming chunk by chunk
// into outputPath. It fails closed: a bad header, wrong passphrase and a
// tampered, truncated or reordered payload are all reported as the same
// generic integrity error.
func Decrypt(inputPath, passphrase, outputPath string) error {
	inFile, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("read input %q: %w", inputPath, err)
	}
	defer inFile.Close()

	in := bufio.NewReader(inFile)
	header := make([]byte, len(encMagic)+1+4+saltSize+noncePrefixSize)
	if _, err := io.ReadFull(in, header); err != nil {
		return errIntegrity()
	}
	offset := len(encMagic)
	if !bytes.Equal(header[:offset], encMagic) || header[offset] != encVersion {
		return errIntegrity()
	}
	offset++
	iterations := int(binary.BigEndian.Uint32(header[offset : offset+4]))
	if iterations < minIterations || iterations > maxIterations {
		return errIntegrity()
	}
	offset += 4
	salt := header[offset : offset+saltSize]
	noncePrefix := header[offset+saltSize:]

	aead, err := newAEAD(passphrase, salt, iterations)
	if err != nil {
		return err
	}

	outFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create output %q: %w", outputPath, err)
	}
	defer outFile.Close()

	if err := openStream(outFile, in, aead, noncePrefix); err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

func openStream(dest io.Writer, in *bufio.Reader, aead cipher.AEAD, noncePrefix []byte) error {
	out := bufio.NewWriter(dest)
	chunkHeader := make([]byte, 5)
	sealed := make([]byte, 0, chunkSize+gcmOverhead)
	var counter uint64
	for {
		if _, err := io.ReadFull(in, chunkHeader); err != nil {
			return errIntegrity()
		}
		flag := chunkHeader[0]
		length := binary.BigEndian.Uint32(chunkHeader[1:])
		if flag > chunkFlagFinal || length > chunkSize+gcmOverhead {
			return errIntegrity()
		}
		sealed = sealed[:length]
		if _, err := io.ReadFull(in, sealed); err != nil {
			return errIntegrity()
		}

		plaintext, err := aead.Open(nil, chunkNonce(noncePrefix, counter), sealed, []byte{flag})
		if err != nil {
			return errIntegrity()
		}
		if _, err := out.Write(plaintext); err != nil {
			return fmt.Errorf("write plaintext: %w", err)
		}
		counter++

		if flag == chunkFlagFinal {
			break
		}
	}
	// Trailing bytes past the final chunk are as corrupt as missing ones.
	if _, err := in.ReadByte(); err != io.EOF {
		return errIntegrity()
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush plaintext: %w", err)
	}
	return nil
}

func errIntegrity() error {
	return fmt.Errorf("%w: cannot decrypt artifact", backup.ErrIntegrity)
}

func newAEAD(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt, iterations))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}
