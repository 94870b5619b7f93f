package imapio

import (
	"errors"
	"io"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/BrianLeishman/go-imapio/utf7"
)

type walked struct {
	folder string
	uid    int
}

func collect(t *testing.T, conn Connection, opts WalkOptions) ([]walked, []error) {
	t.Helper()
	var got []walked
	var errs []error
	for m, err := range Walk(conn, opts) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, walked{m.Folder, m.UID})
	}
	return got, errs
}

func twoFolders() *fakeConn {
	return newFakeConn(
		newFakeFolder("INBOX", "/", testMessage("a"), testMessage("b"), testMessage("c")),
		newFakeFolder("Work/Urgent", "/", testMessage("d"), testMessage("e")),
	)
}

func TestWalkVisitsEverything(t *testing.T) {
	conn := twoFolders()
	got, errs := collect(t, conn, WalkOptions{})
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}

	want := []walked{{"INBOX", 1}, {"INBOX", 2}, {"INBOX", 3}, {"Work/Urgent", 1}, {"Work/Urgent", 2}}
	sortWalked(got)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("walked %v, want %v", got, want)
	}
	if n := conn.countCalls("SEARCH ALL"); n != 2 {
		t.Errorf("SEARCH ALL issued %d times, want 2", n)
	}
}

func sortWalked(w []walked) {
	slices.SortFunc(w, func(a, b walked) int {
		if a.folder != b.folder {
			if a.folder < b.folder {
				return -1
			}
			return 1
		}
		return a.uid - b.uid
	})
}

func TestWalkSummary(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/",
		"Subject: =?utf-8?B?0JjQstCw0L0=?=\r\nFrom: Alice <alice@example.com>\r\nDate: Mon, 02 Jan 2006 15:04:05 -0700\r\n\r\nbody"))

	for m, err := range Walk(conn, WalkOptions{}) {
		if err != nil {
			t.Fatal(err)
		}
		if m.Subject != "Иван" {
			t.Errorf("Subject = %q", m.Subject)
		}
		if m.From != `"Alice" <alice@example.com>` {
			t.Errorf("From = %q", m.From)
		}
		if want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC); !m.WhenUTC.Equal(want) || m.WhenUTC.Location() != time.UTC {
			t.Errorf("WhenUTC = %v, want %v", m.WhenUTC, want)
		}
		if !reflect.DeepEqual(m.Tags, []string{"inbox"}) {
			t.Errorf("Tags = %q", m.Tags)
		}
	}
}

func TestWalkKeepOrder(t *testing.T) {
	f := newFakeFolder("INBOX", "/", testMessage("a"), testMessage("b"), testMessage("c"))
	f.uids = []int{3, 1, 2}
	got, _ := collect(t, newFakeConn(f), WalkOptions{KeepOrder: true})
	want := []walked{{"INBOX", 3}, {"INBOX", 1}, {"INBOX", 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("walked %v, want %v", got, want)
	}
}

func TestWalkShuffleUsesRand(t *testing.T) {
	run := func() []walked {
		conn := twoFolders()
		got, _ := collect(t, conn, WalkOptions{Rand: rand.New(rand.NewPCG(1, 2))})
		return got
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same seed produced %v and %v", a, b)
	}
}

func TestWalkSortIsVerbatim(t *testing.T) {
	f := newFakeFolder("INBOX", "/", testMessage("a"), testMessage("b"), testMessage("c"))
	conn := newFakeConn(f)
	conn.caps["SORT"] = true
	conn.sortOrder = []int{3, 1, 2}

	got, errs := collect(t, conn, WalkOptions{Sort: "REVERSE DATE", Search: "UNSEEN"})
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	want := []walked{{"INBOX", 3}, {"INBOX", 1}, {"INBOX", 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("walked %v, want %v", got, want)
	}
	if conn.countCalls("SORT REVERSE DATE UNSEEN") != 1 || conn.countCalls("SEARCH") != 0 {
		t.Errorf("calls = %q", conn.calls)
	}
}

func TestWalkSortWithoutCapability(t *testing.T) {
	conn := twoFolders()
	got, errs := collect(t, conn, WalkOptions{Sort: "DATE"})
	if len(got) != 0 || len(errs) != 1 {
		t.Fatalf("got %v, errs %v", got, errs)
	}
	if !errors.Is(errs[0], ErrCapabilityMissing) {
		t.Errorf("error = %v, want capability missing", errs[0])
	}
	if !reflect.DeepEqual(conn.calls, []string{"CAPABILITY SORT"}) {
		t.Errorf("calls = %q", conn.calls)
	}
}

func TestWalkCapabilityReadFailure(t *testing.T) {
	conn := twoFolders()
	conn.capErr = io.ErrUnexpectedEOF
	_, errs := collect(t, conn, WalkOptions{Sort: "DATE"})
	if len(errs) != 1 {
		t.Fatalf("errs %v", errs)
	}
	if !errors.Is(errs[0], ErrConnectionFailure) || errors.Is(errs[0], ErrCapabilityMissing) {
		t.Errorf("error = %v, want connection failure", errs[0])
	}
	if !errors.Is(errs[0], io.ErrUnexpectedEOF) {
		t.Errorf("error = %v does not wrap the cause", errs[0])
	}
	if conn.countCalls("LIST") != 0 {
		t.Errorf("calls = %q", conn.calls)
	}
}

func TestWalkFilters(t *testing.T) {
	conn := twoFolders()
	got, _ := collect(t, conn, WalkOptions{Includes: ExactTag("urgent")})
	for _, w := range got {
		if w.folder != "Work/Urgent" {
			t.Errorf("walked %v outside the included folder", w)
		}
	}
	if conn.countCalls("SELECT INBOX") != 0 {
		t.Errorf("excluded folder was selected: %q", conn.calls)
	}

	conn = twoFolders()
	got, _ = collect(t, conn, WalkOptions{Includes: TagSet("inbox", "work"), Excludes: ExactTag("work")})
	if len(got) != 3 {
		t.Errorf("walked %v, want only INBOX", got)
	}
}

func TestWalkSkipsRejectedFolder(t *testing.T) {
	conn := twoFolders()
	conn.folders[0].selectErr = &CommandError{Status: "NO", Text: "mailbox locked"}

	got, errs := collect(t, conn, WalkOptions{})
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	if len(got) != 2 || got[0].folder != "Work/Urgent" {
		t.Errorf("walked %v", got)
	}

	conn = twoFolders()
	conn.folders[1].searchErr = &CommandError{Status: "BAD", Text: "bad criterion"}
	got, errs = collect(t, conn, WalkOptions{})
	if len(errs) != 0 || len(got) != 3 {
		t.Errorf("walked %v, errs %v", got, errs)
	}
}

func TestWalkSkipsRejectedMessage(t *testing.T) {
	f := newFakeFolder("INBOX", "/", testMessage("a"), testMessage("b"), testMessage("c"))
	conn := newFakeConn(f)
	conn.headerErr[2] = &CommandError{Status: "NO", Text: "gone"}

	got, errs := collect(t, conn, WalkOptions{KeepOrder: true})
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	want := []walked{{"INBOX", 1}, {"INBOX", 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("walked %v, want %v", got, want)
	}
}

func TestWalkConnectionFailure(t *testing.T) {
	f := newFakeFolder("INBOX", "/", testMessage("a"), testMessage("b"), testMessage("c"))
	conn := newFakeConn(f)
	conn.headerErr[2] = io.ErrUnexpectedEOF

	got, errs := collect(t, conn, WalkOptions{KeepOrder: true})
	if !reflect.DeepEqual(got, []walked{{"INBOX", 1}}) {
		t.Errorf("walked %v", got)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v", errs)
	}
	if !errors.Is(errs[0], ErrConnectionFailure) || !errors.Is(errs[0], io.ErrUnexpectedEOF) {
		t.Errorf("error = %v", errs[0])
	}
	var e *Error
	if !errors.As(errs[0], &e) || e.Folder != "INBOX" || e.UID != 2 || e.Conn != "fake:993 user" {
		t.Errorf("error context = %#v", e)
	}
	if n := conn.countCalls("HEADER 3"); n != 0 {
		t.Errorf("walk continued after the failure: %q", conn.calls)
	}
}

func TestWalkListFailure(t *testing.T) {
	conn := twoFolders()
	conn.listErr = io.EOF
	_, errs := collect(t, conn, WalkOptions{})
	if len(errs) != 1 || !errors.Is(errs[0], ErrConnectionFailure) {
		t.Errorf("errs = %v", errs)
	}
}

func TestWalkEarlyBreak(t *testing.T) {
	conn := twoFolders()
	for range Walk(conn, WalkOptions{}) {
		break
	}
	if n := conn.countCalls("HEADER"); n != 1 {
		t.Errorf("fetched %d headers after break, want 1", n)
	}
	calls := len(conn.calls)
	for range Walk(conn, WalkOptions{}) {
		break
	}
	if len(conn.calls) <= calls {
		t.Error("second walk issued no calls")
	}
}

func TestWalkIsLazy(t *testing.T) {
	conn := twoFolders()
	_ = Walk(conn, WalkOptions{})
	if len(conn.calls) != 0 {
		t.Errorf("calls before iteration: %q", conn.calls)
	}
}

func TestReviveExistingFolder(t *testing.T) {
	conn := newFakeConn(
		newFakeFolder("INBOX", "/"),
		newFakeFolder("Archive/Old", "/"),
	)
	raw := []byte(testMessage("revived"))
	if err := Revive(conn, " archive / OLD ", raw); err != nil {
		t.Fatalf("Revive: %v", err)
	}
	if conn.countCalls("CREATE") != 0 {
		t.Errorf("unexpected create: %q", conn.calls)
	}
	if len(conn.appended) != 1 || conn.appended[0].folder != "Archive/Old" {
		t.Fatalf("appended = %#v", conn.appended)
	}
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !conn.appended[0].date.Equal(want) {
		t.Errorf("date = %v, want %v", conn.appended[0].date, want)
	}
}

func TestReviveCreatesFolder(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/"))
	if err := Revive(conn, "Спасибо", []byte("Subject: no date\r\n\r\nbody")); err != nil {
		t.Fatalf("Revive: %v", err)
	}
	name := utf7.Encode("Спасибо")
	if conn.countCalls("CREATE "+name) != 1 {
		t.Errorf("calls = %q", conn.calls)
	}
	if len(conn.appended) != 1 || conn.appended[0].folder != name || !conn.appended[0].date.IsZero() {
		t.Errorf("appended = %#v", conn.appended)
	}
}

func TestReviveRejected(t *testing.T) {
	conn := newFakeConn(newFakeFolder("INBOX", "/"))
	conn.appendErr = &CommandError{Status: "NO", Text: "over quota"}
	err := Revive(conn, "inbox", []byte(testMessage("x")))
	if !errors.Is(err, ErrProtocolRejection) {
		t.Fatalf("err = %v", err)
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Text != "over quota" {
		t.Errorf("cause = %v", ce)
	}
}

func TestReviveBuiltMessage(t *testing.T) {
	root, err := BuildMessage(OutgoingMessage{
		Date:    time.Date(2020, 5, 17, 8, 0, 0, 0, time.UTC),
		Subject: "Yes",
		From:    "from@example.com",
		To:      "to@example.com",
		Text:    "Yes",
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := EncodeMessage(root)
	if err != nil {
		t.Fatal(err)
	}

	conn := newFakeConn(newFakeFolder("INBOX", "/"))
	if err := Revive(conn, "INBOX", raw); err != nil {
		t.Fatal(err)
	}
	if !conn.appended[0].date.Equal(time.Date(2020, 5, 17, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", conn.appended[0].date)
	}
}

func TestCountMessages(t *testing.T) {
	conn := twoFolders()
	conn.folders = append(conn.folders, newFakeFolder("Locked", "/", testMessage("z")))
	conn.folders[2].selectErr = &CommandError{Status: "NO", Text: "locked"}

	stats, err := CountMessages(conn, FolderFilter{}, ExactTag("urgent"))
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Name != "INBOX" || stats[0].Count != 3 || stats[0].MaxUID != 3 || stats[0].Error != nil {
		t.Errorf("INBOX stats = %+v", stats[0])
	}
	if stats[1].Name != "Locked" || !errors.Is(stats[1].Error, ErrProtocolRejection) {
		t.Errorf("Locked stats = %+v", stats[1])
	}
}
