// Package utf7 implements the modified UTF-7 encoding used for IMAP mailbox
// names (RFC 3501 section 5.1.3).
//
// Printable ASCII other than '&' is copied through. Everything else is
// written as '&' + base64 of the UTF-16BE text + '-', where the base64
// alphabet uses ',' instead of '/' and carries no padding. A literal '&' is
// written as "&-".
package utf7

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

var mb64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").WithPadding(base64.NoPadding)

// ErrBadUTF16 is returned by Decode when a shifted run does not hold valid
// UTF-16BE text.
var ErrBadUTF16 = errors.New("utf7: invalid utf-16 in shifted run")

func passthrough(r rune) bool {
	return r >= 0x20 && r <= 0x7e && r != '&'
}

// Encode converts text into its modified UTF-7 form. The result only
// contains printable ASCII.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		units := utf16.Encode(run)
		raw := make([]byte, 0, len(units)*2)
		for _, u := range units {
			raw = append(raw, byte(u>>8), byte(u))
		}
		b.WriteByte('&')
		b.WriteString(mb64.EncodeToString(raw))
		b.WriteByte('-')
		run = run[:0]
	}

	for _, r := range s {
		switch {
		case r == '&':
			flush()
			b.WriteString("&-")
		case passthrough(r):
			flush()
			b.WriteRune(r)
		default:
			run = append(run, r)
		}
	}
	flush()
	return b.String()
}

// Decode converts a modified UTF-7 mailbox name back into text. A shifted
// run left open at the end of the input is decoded as if it were closed.
func Decode(s string) (string, error) {
	if !strings.Contains(s, "&") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c != '&' {
			b.WriteByte(c)
			i++
			continue
		}
		i++

		end := strings.IndexByte(s[i:], '-')
		if end < 0 {
			end = len(s) - i
		}
		run := s[i : i+end]
		i += end + 1

		if run == "" {
			b.WriteByte('&')
			continue
		}
		text, err := decodeRun(run)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func decodeRun(run string) (string, error) {
	raw, err := mb64.DecodeString(run)
	if err != nil {
		return "", fmt.Errorf("utf7: invalid base64 %q: %w", run, err)
	}
	if len(raw)%2 != 0 {
		return "", ErrBadUTF16
	}

	units := make([]uint16, len(raw)/2)
	for j := range units {
		units[j] = uint16(raw[2*j])<<8 | uint16(raw[2*j+1])
	}
	for j := 0; j < len(units); j++ {
		if !utf16.IsSurrogate(rune(units[j])) {
			continue
		}
		if units[j] >= 0xdc00 || j+1 >= len(units) || units[j+1] < 0xdc00 || units[j+1] > 0xdfff {
			return "", ErrBadUTF16
		}
		j++
	}
	return string(utf16.Decode(units)), nil
}
