package csvfile

import (
	"bytes"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// detectionSampleSize is how many bytes are sniffed for encoding detection
const detectionSampleSize = 10000

// confidenceThreshold below which detection falls back to utf-8
const confidenceThreshold = 0.7

// detectEncoding sniffs a byte sample and guesses its encoding with a
// confidence score. Guesses below the confidence threshold fall back
// to utf-8.
func detectEncoding(sample []byte) (string, float64) {
	name, confidence := classifySample(sample)
	if confidence < confidenceThreshold {
		return "utf-8", confidence
	}
	return name, confidence
}

func classifySample(sample []byte) (string, float64) {
	if len(sample) == 0 {
		return "utf-8", 1.0
	}

	switch {
	case bytes.HasPrefix(sample, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8", 1.0
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return "utf-16le", 1.0
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return "utf-16be", 1.0
	}

	if utf8.Valid(sample) {
		for _, b := range sample {
			if b >= 0x80 {
				// Multibyte sequences that validate are a strong signal.
				return "utf-8", 0.95
			}
		}
		// Pure ASCII decodes identically under utf-8.
		return "utf-8", 1.0
	}

	// Invalid UTF-8 with bytes in the extended range reads cleanly as
	// Windows-1252, the usual origin of such files.
	printable := 0
	for _, b := range sample {
		if b >= 0x20 || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}
	ratio := float64(printable) / float64(len(sample))
	if ratio > 0.95 {
		return "windows-1252", 0.75
	}
	return "windows-1252", ratio * 0.5
}

// detectFileEncoding sniffs the first bytes of a file
func detectFileEncoding(path string) (string, float64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from validated config
	if err != nil {
		return "", 0, err
	}
	defer f.Close() //nolint:errcheck

	sample := make([]byte, detectionSampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", 0, err
	}

	name, confidence := detectEncoding(sample[:n])
	return name, confidence, nil
}

// encodingByName resolves an encoding name to its decoder. A nil return
// means the bytes can be read as-is.
func encodingByName(name string) encoding.Encoding {
	switch name {
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case "windows-1252":
		return charmap.Windows1252
	case "iso-8859-1", "latin-1":
		return charmap.ISO8859_1
	default:
		return nil
	}
}

// decodingReader wraps r so the stream arrives as UTF-8 regardless of the
// file's encoding. A UTF-8 BOM is stripped when present.
func decodingReader(r io.Reader, encodingName string) io.Reader {
	if enc := encodingByName(encodingName); enc != nil {
		return transform.NewReader(r, enc.NewDecoder())
	}
	return transform.NewReader(r, unicode.BOMOverride(encoding.Nop.NewDecoder()))
}
