package imapio

import (
	"io"
	"mime"
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// wordDecoder is shared by every header decode. It is never mutated after
// package initialization.
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(label, input)
	},
}

var domainRE = regexp.MustCompile(`@[^,]+|/[^,]+`)

// DecodeHeader decodes RFC 2047 encoded-words in a header value.
//
// When the value does not decode, adjacent encoded-words glued together
// ("?==?") are split and the decode is retried. If that fails too the raw
// text is used as is and a warning is logged. Bytes that are not valid UTF-8
// are dropped, whitespace runs are collapsed and the result is trimmed.
func DecodeHeader(raw string) string {
	text, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		text, err = wordDecoder.DecodeHeader(strings.ReplaceAll(raw, "?==?", "?= =?"))
	}
	if err != nil {
		warnLog("", "", "could not decode header", "value", raw, "error", err)
		text = raw
	}
	text = strings.ToValidUTF8(text, "")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// DecodeAddressList decodes address header values into one display string:
// `"Name" <addr>` or bare `addr` entries joined by ", ". A value that is not
// a valid address list is decoded as plain text instead.
func DecodeAddressList(values ...string) string {
	parser := mail.AddressParser{WordDecoder: wordDecoder}
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		addrs, err := parser.ParseList(v)
		if err != nil {
			debugLog("", "", "address list did not parse", "value", v, "error", err)
			if text := DecodeHeader(v); text != "" {
				out = append(out, text)
			}
			continue
		}
		for _, a := range addrs {
			out = append(out, formatAddress(DecodeHeader(a.Name), a.Address))
		}
	}
	return strings.Join(out, ", ")
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return `"` + AddSlashes.Replace(name) + `" <` + address + `>`
}

// Nickname derives a short display name from an address:
//
//	Nickname("person.one@example.com")                 // "Person One"
//	Nickname("Mr. Person <person.one@example.com>")   // "Mr Person"
func Nickname(text string) string {
	var name, address string
	if a, err := mail.ParseAddress(text); err == nil {
		name, address = DecodeHeader(a.Name), a.Address
	} else if i := strings.IndexByte(text, '<'); i >= 0 {
		name, address = DecodeHeader(text[:i]), strings.Trim(text[i:], "<> ")
	} else {
		address = strings.TrimSpace(text)
	}
	if name == "" {
		name = address
	}

	name = domainRE.ReplaceAllString(name, "")
	name = strings.NewReplacer(".", " ", "_", " ").Replace(name)
	name = whitespaceRE.ReplaceAllString(name, " ")
	name = strings.Trim(name, `" `)
	return cases.Title(language.Und).String(name)
}
