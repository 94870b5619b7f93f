package imapio

import (
	"fmt"

	"github.com/sqs/go-xoauth2"
)

// Authenticate performs XOAUTH2 authentication using an access token.
func (d *Dialer) Authenticate(user string, accessToken string) error {
	b64 := xoauth2.XOAuth2String(user, accessToken)
	// Auth failures must not trigger a reconnect, hence no retries.
	_, err := d.Exec(fmt.Sprintf("AUTHENTICATE XOAUTH2 %s", b64), false, 0, nil)
	return err
}

// Login performs LOGIN authentication using username and password.
func (d *Dialer) Login(username string, password string) error {
	_, err := d.Exec(fmt.Sprintf(`LOGIN "%s" "%s"`, AddSlashes.Replace(username), AddSlashes.Replace(password)), false, 0, nil)
	return err
}
