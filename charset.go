package imapio

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ResolveCharset picks the charset used to turn a text payload into UTF-8.
// A declared charset wins when it is known. Otherwise the payload is
// detected (see DetectCharset). The returned encoding is never nil.
func ResolveCharset(declared string, payload []byte, contentType string) (string, encoding.Encoding) {
	if declared = strings.TrimSpace(declared); declared != "" {
		if enc, name := charset.Lookup(declared); enc != nil {
			return name, enc
		}
		debugLog("", "", "unknown declared charset", "charset", declared)
	}

	label := DetectCharset(payload, contentType)
	if enc, name := charset.Lookup(label); enc != nil {
		return name, enc
	}
	return "utf-8", encoding.Nop
}

// DetectCharset guesses the charset of payload. Valid UTF-8 short-circuits
// detection; when the detector has no answer the result is "utf-8".
func DetectCharset(payload []byte, contentType string) string {
	if utf8.Valid(payload) {
		return "utf-8"
	}

	detector := chardet.NewTextDetector()
	if strings.Contains(strings.ToLower(contentType), "html") {
		detector = chardet.NewHtmlDetector()
	}
	result, err := detector.DetectBest(payload)
	if err != nil || result == nil || result.Charset == "" {
		return "utf-8"
	}
	if enc, _ := charset.Lookup(result.Charset); enc == nil {
		debugLog("", "", "detected charset has no decoder", "charset", result.Charset)
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// decodeIgnore converts payload to UTF-8 text with enc, dropping bytes that
// do not decode rather than failing.
func decodeIgnore(enc encoding.Encoding, payload []byte) string {
	if enc == nil {
		enc = encoding.Nop
	}

	var decoded []byte
	decoder := enc.NewDecoder()
	idx := 0
	for idx < len(payload) {
		result, n, err := transform.Bytes(decoder, payload[idx:])
		decoded = append(decoded, result...)
		if err == nil {
			break
		}
		idx += n + 1
		decoder.Reset()
	}

	text := strings.ToValidUTF8(string(decoded), "")
	return strings.ReplaceAll(text, string(utf8.RuneError), "")
}
