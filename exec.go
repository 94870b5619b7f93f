package imapio

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"github.com/rs/xid"
)

// literalMarker finds "{n}\r\n" inside an outgoing command.
var literalMarker = regexp.MustCompile(`\{(\d+)\}\r\n`)

// newTag returns a unique command tag. XID tags are 20 uppercase base32hex
// characters (0-9, A-V).
func newTag() string {
	return strings.ToUpper(xid.New().String())
}

// splitLiterals cuts command after every literal announcement. Each piece
// but the first is sent only once the server asks for it with "+". The
// contents of a literal are never searched for further announcements.
func splitLiterals(command string) []string {
	var chunks []string
	start, from := 0, 0
	for from <= len(command) {
		loc := literalMarker.FindStringSubmatchIndex(command[from:])
		if loc == nil {
			break
		}
		end := from + loc[1]
		n, _ := strconv.Atoi(command[from+loc[2] : from+loc[3]])
		chunks = append(chunks, command[start:end])
		start = end
		from = min(end+n, len(command))
		if from == len(command) {
			break
		}
	}
	return append(chunks, command[start:])
}

// sanitize hides credentials from the wire trace.
func (d *Dialer) sanitize(command string) string {
	if rest, ok := strings.CutPrefix(command, "AUTHENTICATE XOAUTH2 "); ok && rest != "" {
		return "AUTHENTICATE XOAUTH2 ****"
	}
	if d.Password != "" {
		command = strings.ReplaceAll(command, fmt.Sprintf(`"%s"`, AddSlashes.Replace(d.Password)), `"****"`)
	}
	return command
}

// readLine reads one response line from the server, with the contents of
// any literal it announces inlined.
func (d *Dialer) readLine() ([]byte, error) {
	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	for {
		a := literalSuffix.Find(dropNl(line))
		if a == nil {
			return line, nil
		}
		n, err := strconv.Atoi(string(a[1 : len(a)-1]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err = io.ReadFull(d.reader, buf); err != nil {
			return nil, err
		}
		line = append(line, buf...)

		if buf, err = d.reader.ReadBytes('\n'); err != nil {
			return nil, err
		}
		line = append(line, buf...)
	}
}

// taggedStatus reports whether line completes the command tagged tag, and
// the rejection when its status is not OK.
func taggedStatus(line, tag []byte) (done bool, rejection *CommandError) {
	if len(line) <= len(tag) || !bytes.Equal(line[:len(tag)], tag) || line[len(tag)] != ' ' {
		return false, nil
	}
	status, text, _ := strings.Cut(string(dropNl(line[len(tag)+1:])), " ")
	if strings.EqualFold(status, "OK") {
		return true, nil
	}
	return true, &CommandError{Status: strings.ToUpper(status), Text: text}
}

// Exec sends command and reads the response up to its tagged completion.
// Every untagged line is passed to processLine and, when buildResponse is
// set, collected into the returned response. Literals in command
// ("{n}\r\n" followed by n bytes) are sent when the server asks for them.
//
// Network failures close the connection, reconnect and try again up to
// retryCount times. A NO or BAD completion is returned as a *CommandError
// without retrying.
func (d *Dialer) Exec(command string, buildResponse bool, retryCount int, processLine func(line []byte) error) (response string, err error) {
	var resp strings.Builder
	var rejected *CommandError
	chunks := splitLiterals(command)

	err = retry.Retry(func() (err error) {
		if !d.Connected {
			return fmt.Errorf("imap: connection %s is closed", d.Identity())
		}
		tag := []byte(newTag())
		rejected = nil
		resp.Reset()

		if CommandTimeout != 0 {
			_ = d.conn.SetDeadline(time.Now().Add(CommandTimeout))
			defer func() { _ = d.conn.SetDeadline(time.Time{}) }()
		}

		if Verbose {
			debugLog(d.Identity(), d.Folder, "sending command", "tag", string(tag), "command", d.sanitize(strings.TrimSpace(chunks[0])))
		}

		pending := chunks[1:]
		first := string(tag) + " " + chunks[0]
		if len(pending) == 0 {
			first += nl
		}
		if _, err = io.WriteString(d.conn, first); err != nil {
			return err
		}

		for {
			line, err := d.readLine()
			if err != nil {
				return err
			}
			if Verbose && !SkipResponses {
				debugLog(d.Identity(), d.Folder, "server response", "response", string(dropNl(line)))
			}

			if done, rej := taggedStatus(line, tag); done {
				rejected = rej
				return nil
			}

			if line[0] == '+' {
				// Continuation request: the next literal, or an empty line to
				// end a SASL exchange the server wants to fail.
				next := nl
				if len(pending) > 0 {
					next = pending[0]
					if pending = pending[1:]; len(pending) == 0 {
						next += nl
					}
				}
				if _, err = io.WriteString(d.conn, next); err != nil {
					return err
				}
				continue
			}

			if processLine != nil {
				if err = processLine(line); err != nil {
					return err
				}
			}
			if buildResponse {
				resp.Write(line)
			}
		}
	}, retryCount, func(err error) error {
		warnLog(d.Identity(), d.Folder, "command failed, closing connection", "error", err)
		_ = d.Close()
		return nil
	}, func() error {
		return d.Reconnect()
	})
	if err != nil {
		errorLog(d.Identity(), d.Folder, "command retries exhausted", "error", err)
		return "", err
	}
	if rejected != nil {
		debugLog(d.Identity(), d.Folder, "command rejected", "status", rejected.Status, "text", rejected.Text)
		return "", rejected
	}
	return resp.String(), nil
}
