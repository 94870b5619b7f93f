package imapio

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/BrianLeishman/go-imapio/utf7"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// ParseTags splits a folder name into normalized tags. The name may be in
// wire form; it is decoded first and left as is when it does not decode.
// An empty delimiter (or the literal NIL) means the folder is flat.
//
//	ParseTags(`"Work\Urgent"`, `\`) // ["work", "urgent"]
func ParseTags(name, delimiter string) []string {
	text, err := utf7.Decode(name)
	if err != nil {
		debugLog("", "", "folder name is not modified utf-7", "folder", name, "error", err)
		text = name
	}
	text = strings.ReplaceAll(text, "&-", "&")

	segments := []string{text}
	if delimiter != "" && !strings.EqualFold(delimiter, "NIL") {
		segments = strings.Split(text, delimiter)
	}

	tags := make([]string, 0, len(segments))
	for _, s := range segments {
		if tag := NormalizeTag(s); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// NormalizeTag lowercases s, strips surrounding quotes and whitespace and
// collapses whitespace runs. It is idempotent.
func NormalizeTag(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return r == '"' || unicode.IsSpace(r)
	})
	return whitespaceRE.ReplaceAllString(s, " ")
}

type filterKind uint8

const (
	filterUnset filterKind = iota
	filterTags
	filterPredicate
)

// FolderFilter selects folders during a walk. Build one with ExactTag,
// TagSet or FolderPredicate; the zero value is unset.
type FolderFilter struct {
	kind filterKind
	tags map[string]struct{}
	pred func(Folder) bool
}

// ExactTag matches folders that carry tag.
func ExactTag(tag string) FolderFilter {
	return TagSet(tag)
}

// TagSet matches folders that carry at least one of tags.
func TagSet(tags ...string) FolderFilter {
	f := FolderFilter{kind: filterTags, tags: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		f.tags[NormalizeTag(t)] = struct{}{}
	}
	return f
}

// FolderPredicate matches folders for which fn returns true.
func FolderPredicate(fn func(Folder) bool) FolderFilter {
	if fn == nil {
		return FolderFilter{}
	}
	return FolderFilter{kind: filterPredicate, pred: fn}
}

// IsSet reports whether the filter was built by one of the constructors.
func (f FolderFilter) IsSet() bool { return f.kind != filterUnset }

// Matches reports whether folder is selected by the filter. An unset filter
// matches nothing.
func (f FolderFilter) Matches(folder Folder) bool {
	switch f.kind {
	case filterTags:
		for _, t := range folder.Tags() {
			if _, ok := f.tags[t]; ok {
				return true
			}
		}
	case filterPredicate:
		return f.pred(folder)
	}
	return false
}

// selectFolder applies the include/exclude policy: an unset includes filter
// accepts everything and excludes always wins.
func selectFolder(folder Folder, includes, excludes FolderFilter) bool {
	if excludes.IsSet() && excludes.Matches(folder) {
		return false
	}
	return !includes.IsSet() || includes.Matches(folder)
}
