package imapio

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ListFolders lists every folder of the account.
func (d *Dialer) ListFolders() ([]Folder, error) {
	folders := make([]Folder, 0)
	_, err := d.Exec(`LIST "" "*"`, false, RetryCount, func(line []byte) error {
		if !strings.HasPrefix(string(line), "* LIST ") {
			return nil
		}
		f, err := parseListLine(string(line))
		if err != nil {
			warnLog(d.Identity(), "", "could not parse LIST response", "error", err)
			dumpLog(d.Identity(), "", "unparsed LIST response", string(line))
			return nil
		}
		folders = append(folders, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// GetFolders returns the wire names of every folder.
func (d *Dialer) GetFolders() ([]string, error) {
	folders, err := d.ListFolders()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}
	return names, nil
}

func (d *Dialer) open(command, folder string, readOnly bool) (int, error) {
	r, err := d.Exec(command+" "+quote(folder), true, RetryCount, nil)
	if err != nil {
		return 0, err
	}
	d.Folder = folder
	d.ReadOnly = readOnly
	return parseExists(r), nil
}

// Select opens folder read-write and returns its message count.
func (d *Dialer) Select(folder string) (int, error) {
	return d.open("SELECT", folder, false)
}

// SelectFolder selects a folder in read-write mode
func (d *Dialer) SelectFolder(folder string) error {
	_, err := d.Select(folder)
	return err
}

// ExamineFolder selects a folder in read-only mode
func (d *Dialer) ExamineFolder(folder string) error {
	_, err := d.open("EXAMINE", folder, true)
	return err
}

// writable runs fn with the current folder opened read-write, returning to
// read-only afterwards if that is how it was opened.
func (d *Dialer) writable(fn func() error) error {
	if !d.ReadOnly {
		return fn()
	}
	folder := d.Folder
	if err := d.SelectFolder(folder); err != nil {
		return err
	}
	err := fn()
	if e := d.ExamineFolder(folder); e != nil && err == nil {
		err = e
	}
	return err
}

// HasCapability reports whether the server advertises name. A failure to
// read the list is logged and reported as false.
func (d *Dialer) HasCapability(name string) bool {
	ok, err := d.Capability(name)
	if err != nil {
		warnLog(d.Identity(), d.Folder, "could not read capabilities", "capability", name, "error", err)
	}
	return ok
}

// Capability reports whether the server advertises name. The capability
// list is fetched once per connection; a failed fetch is not cached.
func (d *Dialer) Capability(name string) (bool, error) {
	if d.capabilities == nil {
		caps := make(map[string]bool)
		_, err := d.Exec("CAPABILITY", false, RetryCount, func(line []byte) error {
			fields := strings.Fields(string(line))
			if len(fields) > 2 && fields[0] == "*" && strings.EqualFold(fields[1], "CAPABILITY") {
				for _, c := range fields[2:] {
					caps[strings.ToUpper(c)] = true
				}
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		d.capabilities = caps
	}
	return d.capabilities[strings.ToUpper(name)], nil
}

// Search returns the UIDs matching criterion in the selected folder. A
// criterion with non-ASCII text is sent with CHARSET UTF-8.
func (d *Dialer) Search(criterion string) ([]int, error) {
	command := "UID SEARCH "
	if !isASCII(criterion) {
		command += "CHARSET UTF-8 "
	}
	r, err := d.Exec(command+criterion, true, RetryCount, nil)
	if err != nil {
		return nil, err
	}
	return parseNumberResponse(r, "SEARCH")
}

// Sort returns the UIDs matching searchCriterion in the order given by
// sortCriterion, e.g. "REVERSE DATE". The server must support SORT.
func (d *Dialer) Sort(sortCriterion, searchCriterion string) ([]int, error) {
	if !strings.HasPrefix(sortCriterion, "(") {
		sortCriterion = "(" + sortCriterion + ")"
	}
	r, err := d.Exec(fmt.Sprintf("UID SORT %s UTF-8 %s", sortCriterion, searchCriterion), true, RetryCount, nil)
	if err != nil {
		return nil, err
	}
	return parseNumberResponse(r, "SORT")
}

// fetch runs UID FETCH for one message and returns the value of the data
// item whose name starts with item. A missing record is reported as a
// rejection since the message may have been expunged.
func (d *Dialer) fetch(uid int, items, item string, types ...TType) (*Token, error) {
	var value *Token
	_, err := d.Exec(fmt.Sprintf("UID FETCH %d %s", uid, items), false, RetryCount, func(line []byte) error {
		tokens, ok, err := parseFetchLine(string(line))
		if !ok || value != nil {
			return nil
		}
		if err != nil {
			warnLog(d.Identity(), d.Folder, "could not parse FETCH response", "uid", uid, "error", err)
			dumpLog(d.Identity(), d.Folder, "unparsed FETCH response", string(line))
			return nil
		}
		if u := findItem(tokens, "UID", TNumber); u != nil && u.Num != uid {
			return nil
		}
		value = findItem(tokens, item, types...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, &CommandError{Status: "NO", Text: fmt.Sprintf("no %s for UID %d", item, uid)}
	}
	return value, nil
}

// findItem returns the first token of one of types following the atom
// that starts with name.
func findItem(tokens []*Token, name string, types ...TType) *Token {
	for i, t := range tokens {
		if t.Type != TAtom || !strings.HasPrefix(strings.ToUpper(t.Str), name) {
			continue
		}
		for _, v := range tokens[i+1:] {
			if slices.Contains(types, v.Type) {
				return v
			}
		}
		return nil
	}
	return nil
}

// FetchHeader returns the named header fields of a message without
// marking it seen.
func (d *Dialer) FetchHeader(uid int, fields []string) ([]byte, error) {
	items := fmt.Sprintf("(UID BODY.PEEK[HEADER.FIELDS (%s)])", strings.Join(fields, " "))
	t, err := d.fetch(uid, items, "BODY[", TLiteral, TQuoted, TNil)
	if err != nil {
		return nil, err
	}
	return []byte(t.Str), nil
}

// FetchBody returns the full message. Servers mark it seen.
func (d *Dialer) FetchBody(uid int) ([]byte, error) {
	t, err := d.fetch(uid, "(UID BODY[])", "BODY[", TLiteral, TQuoted, TNil)
	if err != nil {
		return nil, err
	}
	return []byte(t.Str), nil
}

// FetchFlags returns the current flags of a message.
func (d *Dialer) FetchFlags(uid int) ([]string, error) {
	t, err := d.fetch(uid, "(UID FLAGS)", "FLAGS", TContainer)
	if err != nil {
		return nil, err
	}
	flags := make([]string, 0, len(t.Tokens))
	for _, f := range t.Tokens {
		flags = append(flags, f.Str)
	}
	return flags, nil
}

// StoreFlags changes the flags of a message. A folder opened read-only is
// switched to read-write for the store.
func (d *Dialer) StoreFlags(uid int, op FlagOp, flags []string) error {
	command := fmt.Sprintf("UID STORE %d %s.SILENT (%s)", uid, op, strings.Join(flags, " "))
	return d.writable(func() error {
		_, err := d.Exec(command, false, RetryCount, nil)
		return err
	})
}

// Append stores msg in folder. \Recent is never sent, and a zero date lets
// the server choose.
func (d *Dialer) Append(folder string, flags []string, date time.Time, msg []byte) error {
	var b strings.Builder
	b.WriteString("APPEND " + quote(folder))
	if flags = withoutRecent(flags); len(flags) > 0 {
		b.WriteString(" (" + strings.Join(flags, " ") + ")")
	}
	if !date.IsZero() {
		b.WriteString(` "` + date.Format(TimeFormat) + `"`)
	}
	b.WriteString(" " + MakeIMAPLiteral(string(msg)))
	// Not retried: the server may have stored the message before the
	// connection dropped.
	_, err := d.Exec(b.String(), false, 0, nil)
	return err
}

// Create creates folder. Like Append it is sent once.
func (d *Dialer) Create(folder string) error {
	_, err := d.Exec("CREATE "+quote(folder), false, 0, nil)
	return err
}

// Expunge permanently removes the messages of the selected folder that
// are flagged \Deleted.
func (d *Dialer) Expunge() error {
	return d.writable(func() error {
		_, err := d.Exec("EXPUNGE", false, RetryCount, nil)
		return err
	})
}

// MoveEmail moves a message of the selected folder to another folder. The
// server must support MOVE.
func (d *Dialer) MoveEmail(uid int, folder string) error {
	return d.writable(func() error {
		_, err := d.Exec("UID MOVE "+strconv.Itoa(uid)+" "+quote(folder), false, RetryCount, nil)
		return err
	})
}

// GetFolderStats counts the messages of every folder and then reopens the
// folder that was selected before.
func (d *Dialer) GetFolderStats() ([]FolderStats, error) {
	folder, readOnly := d.Folder, d.ReadOnly
	stats, err := CountMessages(d, FolderFilter{}, FolderFilter{})

	if folder != "" && d.Connected {
		if readOnly {
			_ = d.ExamineFolder(folder)
		} else {
			_ = d.SelectFolder(folder)
		}
	}
	return stats, err
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
