package imapio

import "fmt"

// dropNl removes a trailing LF or CRLF.
func dropNl(b []byte) []byte {
	if len(b) >= 1 && b[len(b)-1] == '\n' {
		if len(b) >= 2 && b[len(b)-2] == '\r' {
			return b[:len(b)-2]
		}
		return b[:len(b)-1]
	}
	return b
}

// MakeIMAPLiteral returns s in IMAP literal syntax, "{bytecount}\r\ntext".
// Use it for search criteria with non-ASCII text; the Dialer sends the
// literal once the server asks for it.
//
//	MakeIMAPLiteral("тест") == "{8}\r\nтест"
func MakeIMAPLiteral(s string) string {
	return fmt.Sprintf("{%d}\r\n%s", len(s), s)
}

// quote returns s as an IMAP quoted string.
func quote(s string) string {
	return `"` + AddSlashes.Replace(s) + `"`
}
