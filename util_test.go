package imapio

import (
	"reflect"
	"testing"
)

func TestMakeIMAPLiteral(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"test", "{4}\r\ntest"},
		{"тест", "{8}\r\nтест"},
		{"测试", "{6}\r\n测试"},
		{"😀👍", "{8}\r\n😀👍"},
		{"Prüfung", "{8}\r\nPrüfung"},
		{"", "{0}\r\n"},
	}

	for _, test := range tests {
		got := MakeIMAPLiteral(test.input)
		if got != test.expected {
			t.Errorf("MakeIMAPLiteral(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestSplitLiterals(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"NOOP", []string{"NOOP"}},
		{`APPEND "INBOX" {5}` + "\r\nhello", []string{`APPEND "INBOX" {5}` + "\r\n", "hello"}},
		{"UID SEARCH CHARSET UTF-8 SUBJECT {8}\r\nтест FROM {3}\r\nbob", []string{
			"UID SEARCH CHARSET UTF-8 SUBJECT {8}\r\n",
			"тест FROM {3}\r\n",
			"bob",
		}},
		// The literal itself looks like an announcement.
		{"X {7}\r\n{1}\r\nab Y", []string{"X {7}\r\n", "{1}\r\nab Y"}},
		{"X {0}\r\n", []string{"X {0}\r\n", ""}},
	}
	for _, tt := range tests {
		if got := splitLiterals(tt.command); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitLiterals(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestDropNl(t *testing.T) {
	for in, want := range map[string]string{"a\r\n": "a", "a\n": "a", "a": "a", "\r\n": "", "": ""} {
		if got := string(dropNl([]byte(in))); got != want {
			t.Errorf("dropNl(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuote(t *testing.T) {
	if got := quote(`Say "hi" \o/`); got != `"Say \"hi\" \\o/"` {
		t.Errorf("quote = %s", got)
	}
}

func TestTaggedStatus(t *testing.T) {
	tag := []byte("A1")
	tests := []struct {
		line   string
		done   bool
		status string
		text   string
	}{
		{"A1 OK done\r\n", true, "", ""},
		{"A1 ok\r\n", true, "", ""},
		{"A1 NO [TRYCREATE] no such mailbox\r\n", true, "NO", "[TRYCREATE] no such mailbox"},
		{"A1 BAD parse error\r\n", true, "BAD", "parse error"},
		{"A10 OK other tag\r\n", false, "", ""},
		{"* OK untagged\r\n", false, "", ""},
		{"A1\r\n", false, "", ""},
	}
	for _, tt := range tests {
		done, rej := taggedStatus([]byte(tt.line), tag)
		if done != tt.done {
			t.Errorf("%q: done = %v", tt.line, done)
			continue
		}
		switch {
		case tt.status == "" && rej != nil:
			t.Errorf("%q: unexpected rejection %v", tt.line, rej)
		case tt.status != "" && (rej == nil || rej.Status != tt.status || rej.Text != tt.text):
			t.Errorf("%q: rejection = %#v", tt.line, rej)
		}
	}
}
