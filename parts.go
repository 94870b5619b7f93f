package imapio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/emersion/go-message"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding"
)

// Part is one leaf of a MIME tree.
type Part struct {
	// Index is the zero-based pre-order position of the part, counting
	// multipart containers.
	Index       int
	FileName    string
	ContentType string // lowercase media type, empty when absent
	// Charset is the charset applied when the payload was decoded to UTF-8.
	// It is empty when the payload was left as transfer-decoded bytes.
	Charset    string
	Payload    []byte
	HasPayload bool
}

// Text returns the payload as a string.
func (p Part) Text() string {
	return string(p.Payload)
}

// String returns a short description of the part
func (p Part) String() string {
	name := p.FileName
	if name == "" {
		name = "-"
	}
	if !p.HasPayload {
		return fmt.Sprintf("#%d %s (%s)", p.Index, name, p.ContentType)
	}
	return fmt.Sprintf("#%d %s (%s %s)", p.Index, name, p.ContentType, humanize.Bytes(uint64(len(p.Payload))))
}

// ExtractOptions controls ExtractParts. The zero value extracts every part
// with its payload and decodes text parts to UTF-8.
type ExtractOptions struct {
	// Include selects parts by index, file name and content type. Nil
	// includes everything.
	Include func(index int, fileName, contentType string) bool
	// Peek skips payload extraction.
	Peek bool
	// KeepRaw leaves text payloads as transfer-decoded bytes.
	KeepRaw bool
}

// ExtractParts parses a message and returns its leaf parts in pre-order.
//
// Unknown charsets and transfer encodings are tolerated; the payload is then
// kept as is. Structural parse errors are returned.
func ExtractParts(r io.Reader, opts ExtractOptions) ([]Part, error) {
	entity, err := message.Read(bufio.NewReader(r))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	var parts []Part
	index := -1
	err = entity.Walk(func(path []int, e *message.Entity, partErr error) error {
		index++
		if partErr != nil && !tolerable(partErr) {
			return partErr
		}
		if e.MultipartReader() != nil {
			return nil
		}

		part := Part{
			Index:       index,
			FileName:    partFileName(e.Header),
			ContentType: partContentType(e.Header),
		}
		if opts.Include != nil && !opts.Include(part.Index, part.FileName, part.ContentType) {
			return nil
		}
		if opts.Peek {
			parts = append(parts, part)
			return nil
		}

		payload, readErr := io.ReadAll(e.Body)
		if readErr != nil {
			warnLog("", "", "part payload truncated", "index", index, "error", readErr)
		}
		part.HasPayload = true
		part.Payload = payload

		if !opts.KeepRaw && strings.HasPrefix(part.ContentType, "text/") {
			_, params, _ := mime.ParseMediaType(e.Header.Get("Content-Type"))
			label, enc := ResolveCharset(params["charset"], payload, part.ContentType)
			if converted(e, partErr) {
				enc = encoding.Nop
			}
			part.Charset = label
			part.Payload = []byte(decodeIgnore(enc, payload))
		}

		parts = append(parts, part)
		return nil
	})
	if err != nil {
		return parts, fmt.Errorf("walk message: %w", err)
	}
	return parts, nil
}

// ExtractFile runs ExtractParts over a saved message. Paths ending in .gz are
// decompressed.
func ExtractFile(path string, opts ExtractOptions) ([]Part, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	return ExtractParts(r, opts)
}

// tolerable reports whether a go-message error leaves a usable entity.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// converted reports whether go-message already turned the body of a text
// part into UTF-8. That only happens when some other package installed
// message.CharsetReader.
func converted(e *message.Entity, partErr error) bool {
	if message.CharsetReader == nil || message.IsUnknownCharset(partErr) {
		return false
	}
	_, params, err := e.Header.ContentType()
	if err != nil {
		return false
	}
	cs := strings.ToLower(params["charset"])
	return cs != "" && cs != "utf-8" && cs != "us-ascii"
}

// The raw values are parsed here rather than through message.Header so a
// broken parameter does not hide the media type.
func partContentType(h message.Header) string {
	raw := h.Get("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return ""
	}
	return strings.ToLower(mediaType)
}

func partFileName(h message.Header) string {
	var name string
	if _, params, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if _, params, err := mime.ParseMediaType(h.Get("Content-Type")); err == nil {
			name = params["name"]
		}
	}
	if strings.Contains(name, "=?") {
		name = DecodeHeader(name)
	}
	return name
}
