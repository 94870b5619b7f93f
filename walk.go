package imapio

import (
	"bufio"
	"bytes"
	"errors"
	"iter"
	"math/rand/v2"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/BrianLeishman/go-imapio/utf7"
)

// WalkOptions controls Walk.
type WalkOptions struct {
	// Includes selects folders; unset selects all of them.
	Includes FolderFilter
	// Excludes rejects folders and wins over Includes.
	Excludes FolderFilter
	// Search is the search criterion, "ALL" when empty.
	Search string
	// Sort is a sort criterion such as "REVERSE DATE". It requires the SORT
	// capability, and the server order is then kept.
	Sort string
	// KeepOrder keeps the server order of unsorted results instead of
	// shuffling them.
	KeepOrder bool
	// Rand shuffles folders and messages. Nil uses the global source.
	Rand *rand.Rand
}

// Walk yields the messages of the selected folders. Folders are visited in
// random order, and so are the messages of a folder unless a sort is
// requested or KeepOrder is set.
//
// A folder the server refuses to select or search is skipped, and so is a
// message whose header cannot be fetched; both are logged. A connection
// failure is yielded as an error and ends the walk. Breaking out of the loop
// stops all further requests.
//
//	for m, err := range imapio.Walk(conn, imapio.WalkOptions{Includes: imapio.ExactTag("inbox")}) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(m.Subject)
//	}
func Walk(conn Connection, opts WalkOptions) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		id := conn.Identity()
		search := strings.TrimSpace(opts.Search)
		if search == "" {
			search = "ALL"
		}
		sortBy := strings.TrimSpace(opts.Sort)

		if sortBy != "" {
			ok, err := hasCapability(conn, "SORT")
			if err != nil {
				yield(nil, classify(err, id, "", 0, "capability"))
				return
			}
			if !ok {
				yield(nil, &Error{Kind: ErrCapabilityMissing, Conn: id, Op: "sort", Err: errors.New("server does not advertise SORT")})
				return
			}
		}

		folders, err := conn.ListFolders()
		if err != nil {
			yield(nil, classify(err, id, "", 0, "list folders"))
			return
		}
		shuffle(opts.Rand, folders)

		for _, folder := range folders {
			if !selectFolder(folder, opts.Includes, opts.Excludes) {
				continue
			}

			uids, err := folderUIDs(conn, folder.Name, search, sortBy)
			if err != nil {
				if IsRejection(err) {
					warnLog(id, folder.Name, "could not load message UIDs, skipping folder", "error", err)
					continue
				}
				yield(nil, err)
				return
			}
			if sortBy == "" && !opts.KeepOrder {
				shuffle(opts.Rand, uids)
			}

			for _, uid := range uids {
				header, err := conn.FetchHeader(uid, SummaryFields)
				if err != nil {
					e := classify(err, id, folder.Name, uid, "fetch header")
					if errors.Is(e, ErrProtocolRejection) {
						warnLog(id, folder.Name, "could not peek at message header", "uid", uid, "error", err)
						continue
					}
					yield(nil, e)
					return
				}
				if !yield(newMessage(conn, folder, uid, header), nil) {
					return
				}
			}
		}
	}
}

// folderUIDs selects folder and resolves the identifiers to visit.
func folderUIDs(conn Connection, folder, search, sortBy string) ([]int, error) {
	id := conn.Identity()
	if _, err := conn.Select(folder); err != nil {
		return nil, classify(err, id, folder, 0, "select")
	}
	if sortBy != "" {
		uids, err := conn.Sort(sortBy, search)
		if err != nil {
			return nil, classify(err, id, folder, 0, "sort")
		}
		return uids, nil
	}
	uids, err := conn.Search(search)
	if err != nil {
		return nil, classify(err, id, folder, 0, "search")
	}
	return uids, nil
}

func shuffle[T any](r *rand.Rand, s []T) {
	swap := func(i, j int) { s[i], s[j] = s[j], s[i] }
	if r != nil {
		r.Shuffle(len(s), swap)
		return
	}
	rand.Shuffle(len(s), swap)
}

// Revive uploads a raw message into the folder named target, creating the
// folder when none of the listed folders has the same tags. The message
// keeps the date of its Date header.
func Revive(conn Connection, target string, raw []byte) error {
	id := conn.Identity()
	folders, err := conn.ListFolders()
	if err != nil {
		return classify(err, id, "", 0, "list folders")
	}

	wire := utf7.Encode(target)
	name := ""
	for _, f := range folders {
		if tags := f.Tags(); len(tags) > 0 && slices.Equal(tags, ParseTags(wire, f.Delimiter)) {
			name = f.Name
			break
		}
	}
	if name == "" {
		name = wire
		if err := conn.Create(name); err != nil {
			return classify(err, id, name, 0, "create folder")
		}
		debugLog(id, name, "created folder")
	}

	if err := conn.Append(name, nil, messageDate(raw), raw); err != nil {
		return classify(err, id, name, 0, "append")
	}
	return nil
}

// messageDate returns the Date header of raw, or the zero time.
func messageDate(raw []byte) time.Time {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return time.Time{}
	}
	t, err := mail.ParseDate(h.Get("Date"))
	if err != nil {
		return time.Time{}
	}
	return t
}

// FolderStats represents statistics for a folder
type FolderStats struct {
	Name   string // wire form
	Tags   []string
	Count  int
	MaxUID int
	Error  error
}

// CountMessages selects every folder chosen by includes and excludes and
// reports its message count and highest UID. A folder the server rejects is
// reported with its Error set; a connection failure aborts the count.
func CountMessages(conn Connection, includes, excludes FolderFilter) ([]FolderStats, error) {
	id := conn.Identity()
	folders, err := conn.ListFolders()
	if err != nil {
		return nil, classify(err, id, "", 0, "list folders")
	}

	var stats []FolderStats
	for _, folder := range folders {
		if !selectFolder(folder, includes, excludes) {
			continue
		}
		stat := FolderStats{Name: folder.Name, Tags: folder.Tags()}

		count, err := conn.Select(folder.Name)
		if err == nil && count > 0 {
			var uids []int
			if uids, err = conn.Search("ALL"); err == nil && len(uids) > 0 {
				stat.MaxUID = slices.Max(uids)
			}
		}
		if err != nil {
			e := classify(err, id, folder.Name, 0, "count messages")
			if !errors.Is(e, ErrProtocolRejection) {
				return stats, e
			}
			warnLog(id, folder.Name, "could not count messages", "error", err)
			stat.Error = e
		}
		stat.Count = count
		stats = append(stats, stat)
	}
	return stats, nil
}
