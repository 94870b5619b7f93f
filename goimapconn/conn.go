// Package goimapconn adapts a github.com/emersion/go-imap v1 client to the
// imapio.Connection interface, so Walk, Revive and CountMessages can run
// over it instead of the built-in Dialer.
package goimapconn

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-sasl"

	"github.com/BrianLeishman/go-imapio"
	"github.com/BrianLeishman/go-imapio/utf7"
)

// Options configure Dial.
type Options struct {
	Username string
	Password string
	// Token, when set, authenticates with OAUTHBEARER instead of LOGIN.
	Token string
	// TLS dials an implicit TLS connection. Nil dials plain text.
	TLS *tls.Config
	// Timeout bounds every command. Zero means no timeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Conn is an imapio.Connection over a go-imap client. Like the client it
// wraps, it is not safe for concurrent use.
type Conn struct {
	client *client.Client
	id     string
	log    *slog.Logger
}

var (
	_ imapio.Connection        = (*Conn)(nil)
	_ imapio.CapabilityChecker = (*Conn)(nil)
)

// Dial connects to addr ("host:port") and authenticates.
func Dial(addr string, opts Options) (*Conn, error) {
	var (
		c   *client.Client
		err error
	)
	if opts.TLS != nil {
		c, err = client.DialTLS(addr, opts.TLS)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.Timeout = opts.Timeout
	if imapio.Verbose {
		c.SetDebug(os.Stderr)
	}

	if opts.Token != "" {
		host, portStr, _ := net.SplitHostPort(addr)
		port, _ := strconv.Atoi(portStr)
		err = c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: opts.Username,
			Token:    opts.Token,
			Host:     host,
			Port:     port,
		}))
	} else {
		err = c.Login(opts.Username, opts.Password)
	}
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("authenticate %s as %s: %w", addr, opts.Username, err)
	}

	conn := New(c, addr+" "+opts.Username)
	if opts.Logger != nil {
		conn.log = opts.Logger.With("conn", conn.id)
	}
	return conn, nil
}

// New wraps an authenticated client. identity names the connection in
// errors and logs.
func New(c *client.Client, identity string) *Conn {
	return &Conn{
		client: c,
		id:     identity,
		log:    slog.Default().With("component", "goimapconn", "conn", identity),
	}
}

// Client returns the wrapped client.
func (c *Conn) Client() *client.Client { return c.client }

func (c *Conn) Identity() string { return c.id }

// Logout ends the session.
func (c *Conn) Logout() error { return c.client.Logout() }

// exec runs cmd and turns a tagged NO or BAD into an *imapio.CommandError.
// Every other failure is returned as is and means the connection is gone.
func (c *Conn) exec(cmd imap.Commander, h responses.Handler) error {
	status, err := c.client.Execute(cmd, h)
	if err != nil {
		return err
	}
	if status == nil {
		return errors.New("connection closed during command execution")
	}
	switch status.Type {
	case imap.StatusRespNo, imap.StatusRespBad:
		return &imapio.CommandError{Status: string(status.Type), Text: status.Info}
	}
	return nil
}

// mailboxName turns a wire-form name back into the text go-imap expects;
// the client encodes names itself.
func mailboxName(wire string) string {
	name, err := utf7.Decode(wire)
	if err != nil {
		return wire
	}
	return name
}

func (c *Conn) ListFolders() ([]imapio.Folder, error) {
	ch := make(chan *imap.MailboxInfo, 16)
	done := make(chan []imapio.Folder)
	go func() {
		var folders []imapio.Folder
		for info := range ch {
			folders = append(folders, imapio.Folder{
				Name:       utf7.Encode(info.Name),
				Delimiter:  info.Delimiter,
				Attributes: info.Attributes,
			})
		}
		done <- folders
	}()

	err := c.exec(&commands.List{Mailbox: "*"}, &responses.List{Mailboxes: ch})
	close(ch)
	folders := <-done
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// Select opens folder. The client routes the untagged EXISTS of the reply
// to its current mailbox, so mbox has to be installed before the command
// runs.
func (c *Conn) Select(folder string) (int, error) {
	mbox := &imap.MailboxStatus{Name: mailboxName(folder), Items: make(map[imap.StatusItem]interface{})}
	c.client.SetState(imap.SelectedState, mbox)
	if err := c.exec(&commands.Select{Mailbox: mbox.Name}, &responses.Select{Mailbox: mbox}); err != nil {
		c.client.SetState(imap.AuthenticatedState, nil)
		return 0, err
	}
	return int(c.client.Mailbox().Messages), nil
}

func (c *Conn) HasCapability(name string) bool {
	ok, err := c.Capability(name)
	if err != nil {
		c.log.Warn("failed to get capabilities", "capability", name, "error", err)
	}
	return ok
}

// Capability is HasCapability with the error of the CAPABILITY command
// returned instead of logged.
func (c *Conn) Capability(name string) (bool, error) {
	caps, err := c.client.Capability()
	if err != nil {
		return false, err
	}
	for capability, ok := range caps {
		if ok && strings.EqualFold(capability, name) {
			return true, nil
		}
	}
	return false, nil
}

// arguments converts a tokenized criterion into command arguments. Quoted
// strings and literals go back out as strings; the client writes them as
// literals when they are not plain ASCII.
func arguments(tokens []*imapio.Token) []interface{} {
	args := make([]interface{}, 0, len(tokens))
	for _, t := range tokens {
		switch t.Type {
		case imapio.TQuoted, imapio.TLiteral:
			args = append(args, t.Str)
		case imapio.TNil:
			args = append(args, nil)
		case imapio.TContainer:
			args = append(args, arguments(t.Tokens))
		default:
			args = append(args, imap.RawString(t.Str))
		}
	}
	return args
}

func criterionArgs(criterion string) ([]interface{}, bool, error) {
	tokens, err := imapio.Tokenize(criterion)
	if err != nil {
		return nil, false, &imapio.CommandError{Status: "BAD", Text: fmt.Sprintf("invalid criterion %q: %v", criterion, err)}
	}
	ascii := true
	for _, r := range criterion {
		if r > 0x7f {
			ascii = false
			break
		}
	}
	return arguments(tokens), ascii, nil
}

func (c *Conn) Search(criterion string) ([]int, error) {
	args, ascii, err := criterionArgs(criterion)
	if err != nil {
		return nil, err
	}
	if !ascii {
		args = append([]interface{}{imap.RawString("CHARSET"), imap.RawString("UTF-8")}, args...)
	}

	res := new(responses.Search)
	cmd := &commands.Uid{Cmd: &imap.Command{Name: "SEARCH", Arguments: args}}
	if err := c.exec(cmd, res); err != nil {
		return nil, err
	}
	return uids(res.Ids), nil
}

// sortResponse collects "* SORT n..." responses.
type sortResponse struct {
	ids []uint32
}

func (r *sortResponse) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "SORT" {
		return responses.ErrUnhandled
	}
	for _, f := range fields {
		id, err := imap.ParseNumber(f)
		if err != nil {
			return err
		}
		r.ids = append(r.ids, id)
	}
	return nil
}

func (c *Conn) Sort(sortCriterion, searchCriterion string) ([]int, error) {
	keys, _, err := criterionArgs(sortCriterion)
	if err != nil {
		return nil, err
	}
	search, _, err := criterionArgs(searchCriterion)
	if err != nil {
		return nil, err
	}

	args := append([]interface{}{keys, imap.RawString("UTF-8")}, search...)
	res := new(sortResponse)
	if err := c.exec(&commands.Uid{Cmd: &imap.Command{Name: "SORT", Arguments: args}}, res); err != nil {
		return nil, err
	}
	return uids(res.ids), nil
}

func uids(ids []uint32) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// fetch returns the FETCH data for uid. Responses for other messages are
// dropped.
func (c *Conn) fetch(uid int, items ...imap.FetchItem) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	ch := make(chan *imap.Message, 4)
	done := make(chan *imap.Message)
	go func() {
		var found *imap.Message
		for m := range ch {
			if m.Uid == uint32(uid) {
				found = m
			}
		}
		done <- found
	}()

	cmd := &commands.Uid{Cmd: &commands.Fetch{SeqSet: seqset, Items: append([]imap.FetchItem{imap.FetchUid}, items...)}}
	err := c.exec(cmd, &responses.Fetch{Messages: ch, SeqSet: seqset, Uid: true})
	close(ch)
	msg := <-done
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &imapio.CommandError{Status: "NO", Text: fmt.Sprintf("no data for UID %d", uid)}
	}
	return msg, nil
}

func (c *Conn) fetchSection(uid int, section *imap.BodySectionName) ([]byte, error) {
	msg, err := c.fetch(uid, section.FetchItem())
	if err != nil {
		return nil, err
	}
	lit := msg.GetBody(section)
	if lit == nil {
		return nil, &imapio.CommandError{Status: "NO", Text: fmt.Sprintf("no %s for UID %d", section.FetchItem(), uid)}
	}
	return io.ReadAll(lit)
}

func (c *Conn) FetchHeader(uid int, fields []string) ([]byte, error) {
	return c.fetchSection(uid, &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: fields},
		Peek:         true,
	})
}

func (c *Conn) FetchBody(uid int) ([]byte, error) {
	return c.fetchSection(uid, &imap.BodySectionName{})
}

func (c *Conn) FetchFlags(uid int) ([]string, error) {
	msg, err := c.fetch(uid, imap.FetchFlags)
	if err != nil {
		return nil, err
	}
	if msg.Flags == nil {
		return []string{}, nil
	}
	return msg.Flags, nil
}

func (c *Conn) StoreFlags(uid int, op imapio.FlagOp, flags []string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	value := make([]interface{}, len(flags))
	for i, f := range flags {
		value[i] = imap.RawString(f)
	}
	cmd := &commands.Uid{Cmd: &commands.Store{
		SeqSet: seqset,
		Item:   imap.FormatFlagsOp(imap.FlagsOp(op.String()), true),
		Value:  value,
	}}
	return c.exec(cmd, nil)
}

func (c *Conn) Append(folder string, flags []string, date time.Time, msg []byte) error {
	flags = slices.DeleteFunc(slices.Clone(flags), func(f string) bool {
		return strings.EqualFold(f, imap.RecentFlag)
	})
	return c.exec(&commands.Append{
		Mailbox: mailboxName(folder),
		Flags:   flags,
		Date:    date,
		Message: bytes.NewBuffer(msg),
	}, nil)
}

func (c *Conn) Create(folder string) error {
	return c.exec(&commands.Create{Mailbox: mailboxName(folder)}, nil)
}
