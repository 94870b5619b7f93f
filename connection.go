package imapio

import "time"

// Connection is the IMAP session the package drives. *Dialer implements it,
// and the goimapconn package adapts github.com/emersion/go-imap clients to it.
//
// A Connection is not safe for concurrent use. Folder names crossing this
// interface are in wire form (modified UTF-7). A request the server rejects
// must be reported as a *CommandError; every other error is treated as the
// connection having failed.
type Connection interface {
	// Identity names the connection in diagnostics, e.g. "host:993 user".
	Identity() string
	ListFolders() ([]Folder, error)
	// Select opens folder read-write and returns its message count.
	Select(folder string) (count int, err error)
	HasCapability(name string) bool
	Search(criterion string) ([]int, error)
	Sort(sortCriterion, searchCriterion string) ([]int, error)
	FetchHeader(uid int, fields []string) ([]byte, error)
	FetchBody(uid int) ([]byte, error)
	FetchFlags(uid int) ([]string, error)
	StoreFlags(uid int, op FlagOp, flags []string) error
	// Append stores msg in folder. A zero date lets the server choose.
	Append(folder string, flags []string, date time.Time, msg []byte) error
	Create(folder string) error
}

// CapabilityChecker is implemented by connections that can tell a missing
// capability apart from a failure to read the capability list. Walk uses it
// when the connection provides it.
type CapabilityChecker interface {
	Capability(name string) (bool, error)
}

func hasCapability(conn Connection, name string) (bool, error) {
	if cc, ok := conn.(CapabilityChecker); ok {
		return cc.Capability(name)
	}
	return conn.HasCapability(name), nil
}

// Folder is one entry of a LIST response.
type Folder struct {
	Name       string // wire form
	Delimiter  string // hierarchy delimiter, empty when the server sent NIL
	Attributes []string
}

// Tags returns the normalized tags of the folder. See ParseTags.
func (f Folder) Tags() []string {
	return ParseTags(f.Name, f.Delimiter)
}

// SummaryFields are the header fields fetched for every walked message.
var SummaryFields = []string{"SUBJECT", "FROM", "TO", "CC", "BCC", "DATE"}
