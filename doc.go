// Package imapio is a convenience layer over an IMAP mailbox.
//
// It walks the folders and messages of an account, decodes what it finds
// and builds messages to put back:
//
//   - Folder names are decoded from modified UTF-7 and split into tags
//     (see ParseTags and the utf7 package)
//   - Walk yields a *Message per matching message with its summary headers
//     decoded; the body is fetched on demand with its flags preserved
//   - Flags are read and changed per message; \Recent is never written
//   - ExtractParts enumerates MIME parts with charset detection
//   - BuildMessage assembles a MIME tree that Revive appends to a folder
//
// The package talks to a server through the Connection interface. *Dialer
// is a small TLS client implementing it, with LOGIN or XOAUTH2
// authentication and automatic reconnect; the goimapconn package adapts
// clients of github.com/emersion/go-imap.
package imapio
