package imapio

import (
	"bytes"
	"fmt"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jhillyerd/enmime/v2"
)

const octetStream = "application/octet-stream"

// compressedSuffixes are sent as opaque binary whatever the system mime table
// says about them.
var compressedSuffixes = map[string]bool{
	".gz": true, ".bz2": true, ".xz": true, ".z": true, ".br": true,
	".zst": true, ".lz": true, ".lzma": true, ".tgz": true,
}

// OutgoingMessage describes a message to build. Participant fields are
// address lists in header syntax.
type OutgoingMessage struct {
	Date            time.Time // zero means now
	Subject         string
	From            string
	To              string
	CC              string
	BCC             string
	Text            string
	HTML            string
	AttachmentPaths []string
}

// BuildMessage assembles a MIME tree:
//
//	attachments + text + html  mixed(alternative(text, html), attachments...)
//	attachments + text         mixed(text, attachments...)
//	attachments + html         mixed(html, attachments...)
//	attachments                mixed(attachments...)
//	text + html                alternative(text, html)
//	text                       text
//	html                       html
//	nothing                    empty text
//
// NUL characters are removed from the subject and the bodies. A missing
// attachment file is an error.
func BuildMessage(o OutgoingMessage) (*enmime.Part, error) {
	text := strings.ReplaceAll(o.Text, "\x00", "")
	html := strings.ReplaceAll(o.HTML, "\x00", "")

	var body *enmime.Part
	switch {
	case text != "" && html != "":
		body = enmime.NewPart("multipart/alternative")
		body.AddChild(textPart("text/plain", text))
		body.AddChild(textPart("text/html", html))
	case text != "":
		body = textPart("text/plain", text)
	case html != "":
		body = textPart("text/html", html)
	}

	root := body
	if len(o.AttachmentPaths) > 0 {
		root = enmime.NewPart("multipart/mixed")
		if body != nil {
			root.AddChild(body)
		}
		for _, path := range o.AttachmentPaths {
			a, err := attachmentPart(path)
			if err != nil {
				return nil, err
			}
			root.AddChild(a)
		}
	}
	if root == nil {
		root = textPart("text/plain", "")
	}

	date := o.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	root.Header.Set("Date", date.Format(time.RFC1123Z))
	if subject := strings.ReplaceAll(o.Subject, "\x00", ""); subject != "" {
		root.Header.Set("Subject", subject)
	}
	for _, h := range []struct{ key, value string }{
		{"From", o.From},
		{"To", o.To},
		{"Cc", o.CC},
		{"Bcc", o.BCC},
	} {
		if v := participants(h.value); v != "" {
			root.Header.Set(h.key, v)
		}
	}
	root.Header.Set("MIME-Version", "1.0")
	return root, nil
}

// EncodeMessage serializes a tree built by BuildMessage.
func EncodeMessage(p *enmime.Part) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func textPart(contentType, content string) *enmime.Part {
	p := enmime.NewPart(contentType)
	p.Charset = "utf-8"
	p.Content = []byte(content)
	return p
}

func attachmentPart(path string) (*enmime.Part, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}

	name := filepath.Base(path)
	contentType := attachmentType(name)
	p := enmime.NewPart(contentType)
	p.Content = content
	p.FileName = name
	p.Disposition = "attachment"
	if strings.HasPrefix(contentType, "text/") {
		p.Charset = DetectCharset(content, contentType)
	}
	return p, nil
}

// attachmentType guesses the media type from the file extension.
func attachmentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || compressedSuffixes[ext] {
		return octetStream
	}
	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext))
	if err != nil || mediaType == "" {
		return octetStream
	}
	return mediaType
}

// participants renders an address list so that non-ASCII display names become
// encoded-words. Lists that do not parse are returned as given.
func participants(list string) string {
	list = strings.TrimSpace(list)
	if list == "" {
		return ""
	}
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		return list
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return strings.Join(out, ", ")
}
