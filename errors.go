package imapio

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Use errors.Is against an *Error to tell them apart.
var (
	// ErrConnectionFailure means the connection aborted mid-operation.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrProtocolRejection means the server answered NO or BAD.
	ErrProtocolRejection = errors.New("protocol rejection")
	// ErrCapabilityMissing means a required capability is not advertised.
	ErrCapabilityMissing = errors.New("capability missing")
)

// CommandError is a tagged non-OK response from the server. Connection
// implementations return it for rejected requests; any other error they
// return is treated as a connection failure.
type CommandError struct {
	Status string // NO or BAD
	Text   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("imap command failed: %s %s", e.Status, e.Text)
}

// Error is returned by the operations of this package. It records the
// connection identity and the folder/UID the operation was working on.
type Error struct {
	Kind   error
	Conn   string
	Folder string
	UID    int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Conn != "" {
		fmt.Fprintf(&b, "[%s] ", e.Conn)
	}
	switch {
	case e.Folder != "" && e.UID > 0:
		fmt.Fprintf(&b, "[%s UID=%d] ", e.Folder, e.UID)
	case e.Folder != "":
		fmt.Fprintf(&b, "[%s] ", e.Folder)
	case e.UID > 0:
		fmt.Fprintf(&b, "[UID=%d] ", e.UID)
	}
	b.WriteString(e.Op)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return e.Kind == target }

// classify wraps err from a Connection call into an *Error of the right kind.
func classify(err error, conn, folder string, uid int, op string) *Error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	kind := ErrConnectionFailure
	var ce *CommandError
	if errors.As(err, &ce) {
		kind = ErrProtocolRejection
	}
	return &Error{Kind: kind, Conn: conn, Folder: folder, UID: uid, Op: op, Err: err}
}

// IsRejection reports whether err is a protocol rejection, either a raw
// *CommandError or an *Error of that kind.
func IsRejection(err error) bool {
	var ce *CommandError
	return errors.Is(err, ErrProtocolRejection) || errors.As(err, &ce)
}
