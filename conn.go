package imapio

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	retry "github.com/StirlingMarketingGroup/go-retry"
)

var nextConnNum atomic.Int64

// Dialer is a small TLS IMAP client. It implements Connection.
type Dialer struct {
	conn      net.Conn
	reader    *bufio.Reader
	Folder    string // selected folder, wire form
	ReadOnly  bool
	Username  string
	Password  string // password or OAuth2 access token
	Host      string
	Port      int
	Connected bool
	ConnNum   int

	capabilities map[string]bool
	// useXOAUTH2 selects XOAUTH2 instead of LOGIN on (re)connection. It is
	// set by NewWithOAuth2.
	useXOAUTH2 bool
}

var (
	_ Connection        = (*Dialer)(nil)
	_ CapabilityChecker = (*Dialer)(nil)
)

// dialHost establishes a TLS connection to the IMAP server
func dialHost(host string, port int) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: DialTimeout}
	var cfg *tls.Config
	if TLSSkipVerify {
		cfg = &tls.Config{InsecureSkipVerify: true}
	}
	return tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, strconv.Itoa(port)), cfg)
}

// New connects to host:port over TLS and logs in with LOGIN.
func New(username string, password string, host string, port int) (*Dialer, error) {
	return connect(username, password, host, port, false)
}

// NewWithOAuth2 connects to host:port over TLS and authenticates with
// XOAUTH2 using accessToken.
func NewWithOAuth2(username string, accessToken string, host string, port int) (*Dialer, error) {
	return connect(username, accessToken, host, port, true)
}

// connect retries only the connection establishment. Authentication
// failures are returned at once.
func connect(username, secret, host string, port int, xoauth2 bool) (*Dialer, error) {
	d := &Dialer{
		Username:   username,
		Password:   secret,
		Host:       host,
		Port:       port,
		ConnNum:    int(nextConnNum.Add(1) - 1),
		useXOAUTH2: xoauth2,
	}

	err := retry.Retry(func() error {
		debugLog(d.Identity(), "", "establishing connection")
		if err := d.dial(); err != nil {
			debugLog(d.Identity(), "", "failed to connect", "error", err)
			return err
		}
		return nil
	}, RetryCount, func(err error) error {
		debugLog(d.Identity(), "", "failed to connect, retrying shortly")
		_ = d.Close()
		return nil
	}, func() error {
		debugLog(d.Identity(), "", "retrying connection now")
		return nil
	})
	if err != nil {
		errorLog(d.Identity(), "", "failed to establish connection", "error", err)
		_ = d.Close()
		return nil, err
	}

	if err := d.authenticate(); err != nil {
		warnLog(d.Identity(), "", "authentication failed", "error", err)
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// dial opens the socket and consumes the server greeting.
func (d *Dialer) dial() error {
	conn, err := dialHost(d.Host, d.Port)
	if err != nil {
		return err
	}
	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.Connected = true
	d.capabilities = nil

	greeting, err := d.readLine()
	if err != nil {
		return fmt.Errorf("imap greeting: %w", err)
	}
	if strings.HasPrefix(string(greeting), "* BYE") {
		return fmt.Errorf("imap greeting: %s", dropNl(greeting))
	}
	debugLog(d.Identity(), "", "connected", "greeting", string(dropNl(greeting)))

	if strings.EqualFold(d.Host, "imap.mail.yahoo.com") {
		// Yahoo refuses most commands from clients that do not identify.
		if _, err := d.Exec(`ID ("GUID" "1")`, false, 0, nil); err != nil && !IsRejection(err) {
			return err
		}
	}
	return nil
}

// authenticate logs in with the method the Dialer was created with.
func (d *Dialer) authenticate() error {
	if d.useXOAUTH2 {
		return d.Authenticate(d.Username, d.Password)
	}
	return d.Login(d.Username, d.Password)
}

// Identity returns "host:port user".
func (d *Dialer) Identity() string {
	return fmt.Sprintf("%s:%d %s", d.Host, d.Port, d.Username)
}

func (d *Dialer) String() string { return d.Identity() }

// Clone opens a second connection with the same credentials and selects
// the same folder.
func (d *Dialer) Clone() (*Dialer, error) {
	d2, err := connect(d.Username, d.Password, d.Host, d.Port, d.useXOAUTH2)
	if err != nil {
		return nil, err
	}
	if d.Folder != "" {
		if d.ReadOnly {
			err = d2.ExamineFolder(d.Folder)
		} else {
			err = d2.SelectFolder(d.Folder)
		}
		if err != nil {
			_ = d2.Close()
			return nil, fmt.Errorf("imap clone: %w", err)
		}
	}
	return d2, nil
}

// Close closes the IMAP connection
func (d *Dialer) Close() error {
	if !d.Connected {
		return nil
	}
	debugLog(d.Identity(), d.Folder, "closing connection")
	d.Connected = false
	if err := d.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("imap close: %w", err)
	}
	return nil
}

// Logout ends the session politely and closes the connection.
func (d *Dialer) Logout() error {
	if d.Connected {
		if _, err := d.Exec("LOGOUT", false, 0, nil); err != nil {
			debugLog(d.Identity(), d.Folder, "logout failed", "error", err)
		}
	}
	return d.Close()
}

// Reconnect closes and reopens the IMAP connection with re-authentication,
// then restores the selected folder.
func (d *Dialer) Reconnect() error {
	_ = d.Close()
	debugLog(d.Identity(), d.Folder, "reopening connection")

	if err := d.dial(); err != nil {
		_ = d.Close()
		return fmt.Errorf("imap reconnect dial: %w", err)
	}

	if err := d.authenticate(); err != nil {
		_ = d.Close()
		return fmt.Errorf("imap reconnect auth: %w", err)
	}

	if d.Folder != "" {
		var err error
		if d.ReadOnly {
			err = d.ExamineFolder(d.Folder)
		} else {
			err = d.SelectFolder(d.Folder)
		}
		if err != nil {
			return fmt.Errorf("imap reconnect select: %w", err)
		}
	}
	return nil
}
