package imapio

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

// fakeFolder is one mailbox of fakeConn. uids keeps the server order.
type fakeFolder struct {
	Folder
	uids      []int
	messages  map[int][]byte
	flags     map[int][]string
	selectErr error
	searchErr error
}

type appendCall struct {
	folder string
	flags  []string
	date   time.Time
	msg    []byte
}

// fakeConn is an in-memory Connection that records every call.
type fakeConn struct {
	folders   []*fakeFolder
	caps      map[string]bool
	capErr    error
	selected  *fakeFolder
	calls     []string
	listErr   error
	headerErr map[int]error
	bodyErr   error
	storeErr  error
	appendErr error
	sortOrder []int
	appended  []appendCall
}

func newFakeConn(folders ...*fakeFolder) *fakeConn {
	return &fakeConn{folders: folders, caps: map[string]bool{}, headerErr: map[int]error{}}
}

func newFakeFolder(name, delimiter string, messages ...string) *fakeFolder {
	f := &fakeFolder{
		Folder:   Folder{Name: name, Delimiter: delimiter},
		messages: map[int][]byte{},
		flags:    map[int][]string{},
	}
	for i, m := range messages {
		uid := i + 1
		f.uids = append(f.uids, uid)
		f.messages[uid] = []byte(m)
	}
	return f
}

func (c *fakeConn) record(format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *fakeConn) countCalls(prefix string) int {
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (c *fakeConn) Identity() string { return "fake:993 user" }

func (c *fakeConn) ListFolders() ([]Folder, error) {
	c.record("LIST")
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]Folder, len(c.folders))
	for i, f := range c.folders {
		out[i] = f.Folder
	}
	return out, nil
}

func (c *fakeConn) Select(folder string) (int, error) {
	c.record("SELECT %s", folder)
	for _, f := range c.folders {
		if f.Name == folder {
			if f.selectErr != nil {
				return 0, f.selectErr
			}
			c.selected = f
			return len(f.uids), nil
		}
	}
	return 0, &CommandError{Status: "NO", Text: "no such mailbox"}
}

func (c *fakeConn) HasCapability(name string) bool {
	ok, _ := c.Capability(name)
	return ok
}

func (c *fakeConn) Capability(name string) (bool, error) {
	c.record("CAPABILITY %s", name)
	if c.capErr != nil {
		return false, c.capErr
	}
	return c.caps[name], nil
}

func (c *fakeConn) Search(criterion string) ([]int, error) {
	c.record("SEARCH %s", criterion)
	if c.selected.searchErr != nil {
		return nil, c.selected.searchErr
	}
	return slices.Clone(c.selected.uids), nil
}

func (c *fakeConn) Sort(sortCriterion, searchCriterion string) ([]int, error) {
	c.record("SORT %s %s", sortCriterion, searchCriterion)
	if c.sortOrder != nil {
		return slices.Clone(c.sortOrder), nil
	}
	return slices.Clone(c.selected.uids), nil
}

func (c *fakeConn) FetchHeader(uid int, fields []string) ([]byte, error) {
	c.record("HEADER %d", uid)
	if err := c.headerErr[uid]; err != nil {
		return nil, err
	}
	raw, ok := c.selected.messages[uid]
	if !ok {
		return nil, &CommandError{Status: "NO", Text: "no such message"}
	}
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i+4], nil
	}
	return raw, nil
}

// FetchBody marks the message seen, like a server does for BODY[].
func (c *fakeConn) FetchBody(uid int) ([]byte, error) {
	c.record("BODY %d", uid)
	if c.bodyErr != nil {
		return nil, c.bodyErr
	}
	if !hasFlag(c.selected.flags[uid], FlagSeen) {
		c.selected.flags[uid] = append(c.selected.flags[uid], FlagSeen)
	}
	return c.selected.messages[uid], nil
}

func (c *fakeConn) FetchFlags(uid int) ([]string, error) {
	c.record("FLAGS %d", uid)
	return slices.Clone(c.selected.flags[uid]), nil
}

func (c *fakeConn) StoreFlags(uid int, op FlagOp, flags []string) error {
	c.record("STORE %d %s (%s)", uid, op, strings.Join(flags, " "))
	if c.storeErr != nil {
		return c.storeErr
	}
	current := c.selected.flags[uid]
	switch op {
	case FlagsReplace:
		current = slices.Clone(flags)
	case FlagsAdd:
		for _, f := range flags {
			if !hasFlag(current, f) {
				current = append(current, f)
			}
		}
	case FlagsRemove:
		current = slices.DeleteFunc(current, func(f string) bool { return hasFlag(flags, f) })
	}
	c.selected.flags[uid] = current
	return nil
}

func (c *fakeConn) Append(folder string, flags []string, date time.Time, msg []byte) error {
	c.record("APPEND %s", folder)
	if c.appendErr != nil {
		return c.appendErr
	}
	c.appended = append(c.appended, appendCall{folder: folder, flags: flags, date: date, msg: msg})
	return nil
}

func (c *fakeConn) Create(folder string) error {
	c.record("CREATE %s", folder)
	c.folders = append(c.folders, newFakeFolder(folder, "/"))
	return nil
}

func testMessage(subject string) string {
	return "Subject: " + subject + "\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"body of " + subject
}
