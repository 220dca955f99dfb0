package importer

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/xmlquery"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// decodeAttempt pairs a charset name with its encoding. A nil encoding
// means the bytes are used as-is after a UTF-8 validity check. Decoders are
// built per call; they carry state and must not be shared across workers.
type decodeAttempt struct {
	name string
	enc  encoding.Encoding
}

// Published files arrive in a handful of encodings with no reliable charset
// declaration, so decoding is try-in-order until one yields well-formed XML.
var decodeAttempts = []decodeAttempt{
	{name: "utf-8", enc: nil},
	{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
	{name: "utf-16be", enc: unicode.UTF16(unicode.BigEndian, unicode.UseBOM)},
	{name: "windows-1252", enc: charmap.Windows1252},
	{name: "latin-1", enc: charmap.ISO8859_1},
}

// Decode strips prefix noise from raw file bytes and parses them as XML,
// trying each candidate charset in order. It returns the parsed document and
// the charset that succeeded.
func Decode(raw []byte) (*xmlquery.Node, string, error) {
	cleaned := stripPrefixNoise(raw)
	if len(cleaned) == 0 {
		return nil, "", fmt.Errorf("file is empty after noise stripping")
	}

	var lastErr error
	for _, attempt := range decodeAttempts {
		text, err := attempt.decode(cleaned)
		if err != nil {
			lastErr = err
			continue
		}
		doc, err := xmlquery.Parse(strings.NewReader(text))
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", attempt.name, err)
			continue
		}
		if doc.SelectElement("*") == nil {
			lastErr = fmt.Errorf("%s: no root element", attempt.name)
			continue
		}
		return doc, attempt.name, nil
	}
	return nil, "", fmt.Errorf("no decoding produced well-formed content: %w", lastErr)
}

func (a decodeAttempt) decode(raw []byte) (string, error) {
	if a.enc == nil {
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("utf-8: invalid byte sequence")
		}
		return string(raw), nil
	}
	out, err := a.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.name, err)
	}
	return string(out), nil
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// stripPrefixNoise removes a UTF-8 byte-order mark and any high-byte garbage
// some files carry before the first markup character. UTF-16 BOMs are left
// alone so the UTF-16 decoders can use them for endianness.
func stripPrefixNoise(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, bomUTF8)
	if bytes.HasPrefix(raw, bomUTF16LE) || bytes.HasPrefix(raw, bomUTF16BE) {
		return raw
	}
	start := 0
	for start < len(raw) && raw[start] >= 0x80 {
		start++
	}
	return raw[start:]
}
