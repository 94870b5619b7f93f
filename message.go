package imapio

import (
	"bufio"
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime/v2"
	"github.com/klauspost/compress/gzip"
)

// Message is a handle on one message of a mailbox, produced by Walk. The
// summary fields are decoded from the header fetched during the walk.
//
// Flag operations and Bytes talk to the connection the message was walked
// on and address the message by UID, so they act on whichever folder that
// connection has selected.
type Message struct {
	conn    Connection
	connID  string
	fetched bool
	body    []byte

	UID    int
	Folder string // wire form
	Tags   []string

	Subject string
	From    string
	To      string
	CC      string
	BCC     string
	Date    string    // raw Date header
	WhenUTC time.Time // zero when Date is missing or does not parse

	// Header is the raw header subset fetched during the walk.
	Header []byte
}

func newMessage(conn Connection, folder Folder, uid int, header []byte) *Message {
	m := &Message{
		conn:   conn,
		connID: conn.Identity(),
		UID:    uid,
		Folder: folder.Name,
		Tags:   folder.Tags(),
		Header: header,
	}

	block := header
	if !bytes.HasSuffix(block, []byte("\r\n\r\n")) && !bytes.HasSuffix(block, []byte("\n\n")) {
		block = append(bytes.TrimRight(slices.Clone(block), "\r\n"), "\r\n\r\n"...)
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(block)))
	if err != nil {
		warnLog(m.connID, m.Folder, "could not parse message header", "uid", uid, "error", err)
		dumpLog(m.connID, m.Folder, "unparsed header", string(header))
		return m
	}

	m.Subject = DecodeHeader(h.Get("Subject"))
	m.From = DecodeAddressList(h.Values("From")...)
	m.To = DecodeAddressList(h.Values("To")...)
	m.CC = DecodeAddressList(h.Values("Cc")...)
	m.BCC = DecodeAddressList(h.Values("Bcc")...)
	m.Date = strings.TrimSpace(h.Get("Date"))
	if m.Date != "" {
		if t, err := mail.ParseDate(m.Date); err == nil {
			m.WhenUTC = t.UTC()
		} else {
			debugLog(m.connID, m.Folder, "unparseable date", "uid", uid, "date", m.Date)
		}
	}
	return m
}

func (m *Message) fail(err error, op string) error {
	return classify(err, m.connID, m.Folder, m.UID, op)
}

// Bytes returns the full message. The first call reads the flags, fetches
// the body and writes the flags back, so reading does not mark the message
// as seen. A flag change made by another client between the read and the
// write is lost. The body is cached afterwards.
func (m *Message) Bytes() ([]byte, error) {
	if m.fetched {
		return m.body, nil
	}

	flags, err := m.conn.FetchFlags(m.UID)
	if err != nil {
		return nil, m.fail(err, "fetch flags")
	}
	body, err := m.conn.FetchBody(m.UID)
	if err != nil {
		return nil, m.fail(err, "fetch body")
	}
	if err := m.conn.StoreFlags(m.UID, FlagsReplace, withoutRecent(flags)); err != nil {
		return nil, m.fail(err, "restore flags")
	}

	m.body = body
	m.fetched = true
	return body, nil
}

// Parts extracts the MIME parts of the message.
func (m *Message) Parts(opts ExtractOptions) ([]Part, error) {
	raw, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	return ExtractParts(bytes.NewReader(raw), opts)
}

// Save writes the exact message bytes to path, gzip compressed when path
// ends in .gz, and returns the part list without payloads. An empty path
// only returns the parts.
func (m *Message) Save(path string) ([]Part, error) {
	raw, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := writeMessageFile(path, raw); err != nil {
			return nil, err
		}
	}
	return ExtractParts(bytes.NewReader(raw), ExtractOptions{Peek: true})
}

// Export writes the message into dir as message.eml (message.eml.gz when
// compress is set) next to tags.txt, one tag per line, and header.txt, a
// readable summary.
func (m *Message) Export(dir string, compress bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	name := "message.eml"
	if compress {
		name += ".gz"
	}
	if _, err := m.Save(filepath.Join(dir, name)); err != nil {
		return err
	}

	var tags strings.Builder
	for _, t := range m.Tags {
		tags.WriteString(t)
		tags.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "tags.txt"), []byte(tags.String()), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "header.txt"), []byte(m.summary()), 0o644)
}

// summary renders the decoded header fields with aligned values.
func (m *Message) summary() string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%-8s %s\n", label+":", value)
	}
	line("From", m.From)
	line("Date", m.Date)
	line("Subject", m.Subject)
	for _, f := range []struct{ label, value string }{
		{"To", m.To},
		{"CC", m.CC},
		{"BCC", m.BCC},
	} {
		if f.value != "" {
			line(f.label, f.value)
		}
	}
	return b.String()
}

func writeMessageFile(path string, raw []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		_, err = f.Write(raw)
		return err
	}
	zw := gzip.NewWriter(f)
	if _, err = zw.Write(raw); err != nil {
		return err
	}
	return zw.Close()
}

// String returns a one-line description of the message
func (m *Message) String() string {
	return fmt.Sprintf("[%s UID=%d] %q from %s", m.Folder, m.UID, m.Subject, m.From)
}

// EmailAddresses maps lowercase addresses to display names
type EmailAddresses map[string]string

// Email is a fully parsed view of a message
type Email struct {
	UID         int
	Folder      string
	Sent        time.Time
	Size        uint64
	Subject     string
	MessageID   string
	From        EmailAddresses
	To          EmailAddresses
	ReplyTo     EmailAddresses
	CC          EmailAddresses
	BCC         EmailAddresses
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment represents an email attachment
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// Email fetches the message if needed and parses it with enmime. Inline
// parts are reported as attachments.
func (m *Message) Email() (*Email, error) {
	raw, err := m.Bytes()
	if err != nil {
		return nil, err
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		dumpLog(m.connID, m.Folder, "email body could not be parsed", string(raw))
		return nil, fmt.Errorf("parse UID %d: %w", m.UID, err)
	}
	for _, perr := range env.Errors {
		debugLog(m.connID, m.Folder, "mime problem", "uid", m.UID, "error", perr.Error())
	}

	e := &Email{
		UID:       m.UID,
		Folder:    m.Folder,
		Sent:      m.WhenUTC,
		Size:      uint64(len(raw)),
		Subject:   DecodeHeader(env.GetHeader("Subject")),
		MessageID: strings.Trim(env.GetHeader("Message-ID"), "<> "),
		Text:      env.Text,
		HTML:      env.HTML,
	}
	for _, group := range [][]*enmime.Part{env.Attachments, env.Inlines} {
		for _, a := range group {
			e.Attachments = append(e.Attachments, Attachment{
				Name:     a.FileName,
				MimeType: a.ContentType,
				Content:  a.Content,
			})
		}
	}
	for _, a := range []struct {
		dest   *EmailAddresses
		header string
	}{
		{&e.From, "From"},
		{&e.ReplyTo, "Reply-To"},
		{&e.To, "To"},
		{&e.CC, "Cc"},
		{&e.BCC, "Bcc"},
	} {
		list, _ := env.AddressList(a.header)
		*a.dest = make(EmailAddresses, len(list))
		for _, addr := range list {
			(*a.dest)[strings.ToLower(addr.Address)] = addr.Name
		}
	}
	return e, nil
}

// String returns the addresses sorted, in header syntax
func (e EmailAddresses) String() string {
	addrs := make([]string, 0, len(e))
	for a := range e {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)

	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = formatAddress(e[a], a)
	}
	return strings.Join(out, ", ")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// String returns a formatted string representation of an Email
func (e Email) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	for _, f := range []struct {
		label string
		addrs EmailAddresses
	}{
		{"To", e.To},
		{"From", e.From},
		{"CC", e.CC},
		{"BCC", e.BCC},
		{"ReplyTo", e.ReplyTo},
	} {
		if len(f.addrs) != 0 {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.addrs)
		}
	}
	if len(e.Text) != 0 {
		fmt.Fprintf(&b, "Text: %s (%s)\n", preview(e.Text, 20), humanize.Bytes(uint64(len(e.Text))))
	}
	if len(e.HTML) != 0 {
		fmt.Fprintf(&b, "HTML: %s (%s)\n", preview(e.HTML, 20), humanize.Bytes(uint64(len(e.HTML))))
	}
	if len(e.Attachments) != 0 {
		fmt.Fprintf(&b, "%d Attachment(s): %s\n", len(e.Attachments), e.Attachments)
	}
	return b.String()
}

// String returns a formatted string representation of an Attachment
func (a Attachment) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.MimeType, humanize.Bytes(uint64(len(a.Content))))
}
