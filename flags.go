package imapio

import (
	"reflect"
	"slices"
	"strings"
)

// FlagOp selects how StoreFlags applies its flag list.
type FlagOp int

const (
	FlagsReplace FlagOp = iota
	FlagsAdd
	FlagsRemove
)

// String returns the STORE data item name for the operation.
func (op FlagOp) String() string {
	switch op {
	case FlagsAdd:
		return "+FLAGS"
	case FlagsRemove:
		return "-FLAGS"
	}
	return "FLAGS"
}

// System flags
const (
	FlagSeen     = `\Seen`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
	FlagDeleted  = `\Deleted`
	FlagDraft    = `\Draft`
	FlagRecent   = `\Recent`
)

// FlagSet represents the action to take on a flag
type FlagSet int

const (
	FlagUnset FlagSet = iota
	FlagAdd
	FlagRemove
)

// Flags is a declarative flag change. Each system flag field is left alone,
// added or removed; Keywords maps keyword names to add (true) or remove
// (false).
type Flags struct {
	Seen     FlagSet
	Answered FlagSet
	Flagged  FlagSet
	Deleted  FlagSet
	Draft    FlagSet
	Keywords map[string]bool
}

// delta splits the change into the flags to add and the flags to remove.
// Keywords are sorted so the produced commands are stable.
func (f Flags) delta() (add, remove []string) {
	v := reflect.ValueOf(f)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type != reflect.TypeOf(FlagUnset) {
			continue
		}
		switch FlagSet(v.Field(i).Int()) {
		case FlagAdd:
			add = append(add, `\`+field.Name)
		case FlagRemove:
			remove = append(remove, `\`+field.Name)
		}
	}

	keywords := make([]string, 0, len(f.Keywords))
	for k := range f.Keywords {
		keywords = append(keywords, k)
	}
	slices.Sort(keywords)
	for _, k := range keywords {
		if f.Keywords[k] {
			add = append(add, k)
		} else {
			remove = append(remove, k)
		}
	}
	return withoutRecent(add), withoutRecent(remove)
}

func isRecent(flag string) bool {
	return strings.EqualFold(flag, FlagRecent)
}

// withoutRecent drops \Recent, which only the server may set.
func withoutRecent(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if !isRecent(f) {
			out = append(out, f)
		}
	}
	return out
}

func hasFlag(flags []string, flag string) bool {
	return slices.ContainsFunc(flags, func(f string) bool {
		return strings.EqualFold(f, flag)
	})
}

// Flags returns the current flags of the message. They are read from the
// server on every call.
func (m *Message) Flags() ([]string, error) {
	flags, err := m.conn.FetchFlags(m.UID)
	if err != nil {
		return nil, m.fail(err, "fetch flags")
	}
	return flags, nil
}

// SetFlags replaces the flags of the message. \Recent is never written.
func (m *Message) SetFlags(flags ...string) error {
	if err := m.conn.StoreFlags(m.UID, FlagsReplace, withoutRecent(flags)); err != nil {
		return m.fail(err, "store flags")
	}
	return nil
}

// SetFlag adds or removes one flag. Setting \Recent is a no-op.
func (m *Message) SetFlag(flag string, on bool) error {
	if isRecent(flag) {
		return nil
	}
	op := FlagsRemove
	if on {
		op = FlagsAdd
	}
	if err := m.conn.StoreFlags(m.UID, op, []string{flag}); err != nil {
		return m.fail(err, "store flag "+flag)
	}
	return nil
}

// UpdateFlags applies a declarative change: one store for the additions
// and one for the removals, each skipped when empty.
func (m *Message) UpdateFlags(f Flags) error {
	add, remove := f.delta()
	if len(add) > 0 {
		if err := m.conn.StoreFlags(m.UID, FlagsAdd, add); err != nil {
			return m.fail(err, "add flags")
		}
	}
	if len(remove) > 0 {
		if err := m.conn.StoreFlags(m.UID, FlagsRemove, remove); err != nil {
			return m.fail(err, "remove flags")
		}
	}
	return nil
}

// Seen reports whether the message carries \Seen.
func (m *Message) Seen() (bool, error) {
	flags, err := m.Flags()
	return hasFlag(flags, FlagSeen), err
}

// SetSeen marks the message as read or unread.
func (m *Message) SetSeen(on bool) error {
	return m.SetFlag(FlagSeen, on)
}

// Deleted reports whether the message carries \Deleted.
func (m *Message) Deleted() (bool, error) {
	flags, err := m.Flags()
	return hasFlag(flags, FlagDeleted), err
}

// SetDeleted marks the message for deletion, or clears the mark.
func (m *Message) SetDeleted(on bool) error {
	return m.SetFlag(FlagDeleted, on)
}
