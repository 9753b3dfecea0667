package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/kebairia/bakctl/internal/backup"
)

// extensions maps each algorithm to the suffix appended to the artifact.
var extensions = map[backup.Compression]string{
	backup.CompressionGzip: ".gz",
	backup.CompressionZstd: ".zst",
	backup.CompressionLZ4:  ".lz4",
}

// Compress transforms inputPath with the requested algorithm and returns
// the output path plus the algorithm actually used. An unrecognized
// algorithm falls back to GZIP; the returned tag always names the real
// codec so decompression never has to guess. NONE passes through.
func Compress(inputPath string, algorithm backup.Compression) (string, backup.Compression, error) {
	used := algorithm
	switch algorithm {
	case backup.CompressionNone:
		return inputPath, backup.CompressionNone, nil
	case backup.CompressionGzip, backup.CompressionZstd, backup.CompressionLZ4:
	default:
		used = backup.CompressionGzip
	}

	outputPath := inputPath + extensions[used]

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", used, fmt.Errorf("open input %q: %w", inputPath, err)
	}
	defer inFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return "", used, fmt.Errorf("create output %q: %w", outputPath, err)
	}
	defer outFile.Close()

	writer, err := newCompressWriter(outFile, used)
	if err != nil {
		return "", used, err
	}

	if _, err := io.Copy(writer, inFile); err != nil {
		writer.Close()
		os.Remove(outputPath)
		return "", used, fmt.Errorf("compress %q: %w", inputPath, err)
	}
	if err := writer.Close(); err != nil {
		os.Remove(outputPath)
		return "", used, fmt.Errorf("finish compression of %q: %w", inputPath, err)
	}

	return outputPath, used, nil
}

// Decompress reverses Compress, dispatching strictly on the stored
// algorithm tag. For NONE the input is returned untouched.
func Decompress(inputPath string, algorithm backup.Compression, outputPath string) (string, error) {
	if algorithm == backup.CompressionNone {
		return inputPath, nil
	}

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("open input %q: %w", inputPath, err)
	}
	defer inFile.Close()

	reader, closeReader, err := newDecompressReader(inFile, algorithm)
	if err != nil {
		return "", err
	}
	defer closeReader()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create output %q: %w", outputPath, err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, reader); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("decompress %q: %w", inputPath, err)
	}
	return outputPath, nil
}

func newCompressWriter(dest io.Writer, algorithm backup.Compression) (io.WriteCloser, error) {
	switch algorithm {
	case backup.CompressionGzip:
		return gzip.NewWriter(dest), nil
	case backup.CompressionZstd:
		w, err := zstd.NewWriter(dest)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return w, nil
	case backup.CompressionLZ4:
		return lz4.NewWriter(dest), nil
	}
	return nil, fmt.Errorf("%w: no writer for compression %q", backup.ErrValidation, algorithm)
}

func newDecompressReader(src io.Reader, algorithm backup.Compression) (io.Reader, func(), error) {
	switch algorithm {
	case backup.CompressionGzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad gzip stream: %v", backup.ErrIntegrity, err)
		}
		return r, func() { r.Close() }, nil
	case backup.CompressionZstd:
		r, err := zstd.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad zstd stream: %v", backup.ErrIntegrity, err)
		}
		return r.IOReadCloser(), r.Close, nil
	case backup.CompressionLZ4:
		r := lz4.NewReader(src)
		return r, func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w: no reader for compression %q", backup.ErrValidation, algorithm)
}

// Ratio returns compressedSize / originalSize, the number reported to
// metrics. Zero original size yields zero.
func Ratio(compressedSize, originalSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}
