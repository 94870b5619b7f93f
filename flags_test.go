package imapio

import (
	"errors"
	"io"
	"reflect"
	"testing"
)

// walkOne returns the first message of a single-folder fake.
func walkOne(t *testing.T, conn *fakeConn) *Message {
	t.Helper()
	for m, err := range Walk(conn, WalkOptions{KeepOrder: true}) {
		if err != nil {
			t.Fatal(err)
		}
		return m
	}
	t.Fatal("walk yielded nothing")
	return nil
}

func TestFlagOpString(t *testing.T) {
	for op, want := range map[FlagOp]string{FlagsReplace: "FLAGS", FlagsAdd: "+FLAGS", FlagsRemove: "-FLAGS"} {
		if got := op.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", op, got, want)
		}
	}
}

func TestSetFlagsDropsRecent(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/", testMessage("a")))
	m := walkOne(t, conn)

	if err := m.SetFlags(FlagSeen, `\RECENT`, "$Label"); err != nil {
		t.Fatal(err)
	}
	if conn.countCalls(`STORE 1 FLAGS (\Seen $Label)`) != 1 {
		t.Errorf("calls = %q", conn.calls)
	}

	before := len(conn.calls)
	if err := m.SetFlag(FlagRecent, true); err != nil {
		t.Fatal(err)
	}
	if len(conn.calls) != before {
		t.Errorf("setting \\Recent issued a call: %q", conn.calls[before:])
	}
}

func TestSetFlagAndQueries(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/", testMessage("a")))
	m := walkOne(t, conn)

	if err := m.SetSeen(true); err != nil {
		t.Fatal(err)
	}
	if seen, err := m.Seen(); err != nil || !seen {
		t.Errorf("Seen() = %v, %v", seen, err)
	}
	if err := m.SetDeleted(true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetSeen(false); err != nil {
		t.Fatal(err)
	}
	flags, err := m.Flags()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(flags, []string{FlagDeleted}) {
		t.Errorf("flags = %q", flags)
	}
	if deleted, _ := m.Deleted(); !deleted {
		t.Error("Deleted() = false")
	}
	if conn.countCalls(`STORE 1 +FLAGS (\Seen)`) != 1 || conn.countCalls(`STORE 1 -FLAGS (\Seen)`) != 1 {
		t.Errorf("calls = %q", conn.calls)
	}
}

func TestUpdateFlags(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/", testMessage("a")))
	m := walkOne(t, conn)

	err := m.UpdateFlags(Flags{
		Seen:     FlagAdd,
		Deleted:  FlagRemove,
		Keywords: map[string]bool{"$b": true, "$a": false, `\Recent`: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if conn.countCalls(`STORE 1 +FLAGS (\Seen $b)`) != 1 || conn.countCalls(`STORE 1 -FLAGS (\Deleted $a)`) != 1 {
		t.Errorf("calls = %q", conn.calls)
	}

	before := len(conn.calls)
	if err := m.UpdateFlags(Flags{}); err != nil {
		t.Fatal(err)
	}
	if len(conn.calls) != before {
		t.Error("empty change issued a call")
	}
}

func TestFlagErrors(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/", testMessage("a")))
	m := walkOne(t, conn)

	conn.storeErr = &CommandError{Status: "NO", Text: "read-only"}
	err := m.SetSeen(true)
	if !errors.Is(err, ErrProtocolRejection) {
		t.Fatalf("err = %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.UID != 1 || e.Folder != "INBOX" || e.Conn != "fake:993 user" {
		t.Errorf("context = %#v", e)
	}
	if want := `[fake:993 user] [INBOX UID=1] store flag \Seen: imap command failed: NO read-only`; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	conn.storeErr = io.ErrClosedPipe
	if err := m.SetFlags(); !errors.Is(err, ErrConnectionFailure) {
		t.Errorf("err = %v", err)
	}
}

func TestBytesPreservesFlags(t *testing.T) {
	f := newFakeFolder("INBOX", "/", testMessage("a"))
	f.flags[1] = []string{FlagRecent, FlagFlagged}
	conn := newFakeConn(f)
	m := walkOne(t, conn)

	raw, err := m.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != testMessage("a") {
		t.Errorf("body = %q", raw)
	}
	if !reflect.DeepEqual(f.flags[1], []string{FlagFlagged}) {
		t.Errorf("flags after read = %q", f.flags[1])
	}
	if conn.countCalls(`STORE 1 FLAGS (\Flagged)`) != 1 {
		t.Errorf("calls = %q", conn.calls)
	}

	before := len(conn.calls)
	if _, err := m.Bytes(); err != nil {
		t.Fatal(err)
	}
	if len(conn.calls) != before {
		t.Error("cached body was fetched again")
	}
}

func TestBytesConnectionFailure(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/", testMessage("a")))
	m := walkOne(t, conn)

	conn.bodyErr = io.ErrUnexpectedEOF
	_, err := m.Bytes()
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("err = %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Op != "fetch body" {
		t.Errorf("context = %#v", e)
	}

	conn.bodyErr = nil
	if _, err := m.Bytes(); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}
