package imapio

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	nl = "\r\n"
	// TimeFormat is the IMAP date-time layout used by APPEND.
	TimeFormat = "_2-Jan-2006 15:04:05 -0700"
)

var (
	literalSuffix    = regexp.MustCompile(`{\d+}$`)
	fetchLineStartRE = regexp.MustCompile(`(?m)^\* \d+ FETCH`)
	existsRE         = regexp.MustCompile(`(?m)^\* (\d+) EXISTS`)
)

// Token is one element of a parsed server response.
type Token struct {
	Type   TType
	Str    string // atom, number, quoted or literal text
	Num    int
	Tokens []*Token
}

// TType is the kind of a Token.
type TType uint8

const (
	TUnset TType = iota
	TAtom        // bare word such as UID, FLAGS or \Seen
	TNumber
	TLiteral // {n} prefixed octets
	TQuoted
	TNil
	TContainer // parenthesized list
)

func (t TType) String() string {
	switch t {
	case TUnset:
		return "TUnset"
	case TAtom:
		return "TAtom"
	case TNumber:
		return "TNumber"
	case TLiteral:
		return "TLiteral"
	case TQuoted:
		return "TQuoted"
	case TNil:
		return "TNil"
	case TContainer:
		return "TContainer"
	}
	return ""
}

func (t Token) String() string {
	switch t.Type {
	case TUnset, TNil:
		return t.Type.String()
	case TLiteral, TQuoted:
		return fmt.Sprintf("(%s, len %d, chars %d %#v)", t.Type, len(t.Str), len([]rune(t.Str)), t.Str)
	case TNumber:
		return fmt.Sprintf("(%s %d)", t.Type, t.Num)
	case TAtom:
		return fmt.Sprintf("(%s %s)", t.Type, t.Str)
	case TContainer:
		return fmt.Sprintf("(%s children: %s)", t.Type, t.Tokens)
	}
	return ""
}

// IsAtomChar reports whether b may appear in a bare word. Brackets are
// allowed so section specs like BODY[HEADER.FIELDS stay one token.
func IsAtomChar(b byte) bool {
	if b <= ' ' || b == 0x7f {
		return false
	}
	switch b {
	case '(', ')', '{', '"':
		return false
	}
	return true
}

// calculateTokenEnd returns the index of the last byte of a literal that
// starts at tokenStart and declares size bytes. A literal cut short by the
// end of the buffer takes what is available.
func calculateTokenEnd(tokenStart, size, bufferLen int) (int, error) {
	switch {
	case tokenStart >= bufferLen:
		if size == 0 {
			return tokenStart - 1, nil
		}
		return 0, fmt.Errorf("literal size %d but tokenStart %d is at/past end of buffer %d", size, tokenStart, bufferLen)
	case tokenStart+size > bufferLen:
		return bufferLen - 1, nil
	default:
		return tokenStart + size - 1, nil
	}
}

// parseTokens splits r into tokens. A single outer container is unwrapped,
// so "(UID 7)" and "UID 7" give the same result.
func parseTokens(r string) ([]*Token, error) {
	tokens := make([]*Token, 0)

	current := TUnset
	start, end := 0, 0
	stack := []*[]*Token{&tokens}

	push := func() *Token {
		var t *Token
		switch current {
		case TQuoted:
			t = &Token{Type: TQuoted, Str: RemoveSlashes.Replace(r[start : end+1])}
		case TAtom:
			s := r[start : end+1]
			if num, err := strconv.Atoi(s); err == nil {
				t = &Token{Type: TNumber, Num: num, Str: s}
			} else if s == "NIL" {
				t = &Token{Type: TNil}
			} else {
				t = &Token{Type: TAtom, Str: s}
			}
		case TLiteral:
			t = &Token{Type: TLiteral, Str: r[start : end+1]}
		case TContainer:
			t = &Token{Type: TContainer, Tokens: make([]*Token, 0, 1)}
		}
		if t != nil {
			top := stack[len(stack)-1]
			*top = append(*top, t)
		}
		current = TUnset
		return t
	}

	l := len(r)
	for i := 0; i < l; i++ {
		b := r[i]

		switch current {
		case TQuoted:
			switch b {
			case '"':
				end = i - 1
				push()
			case '\\':
				i++
			}
			continue
		case TAtom:
			if IsAtomChar(b) {
				continue
			}
			end = i - 1
			push()
		case TLiteral:
			if b >= '0' && b <= '9' {
				continue
			}
			// b is the closing brace; start points at the size digits.
			size, err := strconv.Atoi(r[start:i])
			if err != nil {
				return nil, fmt.Errorf("literal size %q: %w", r[start:i], err)
			}
			i++
			if i < l && r[i] == '\r' {
				i++
			}
			if i < l && r[i] == '\n' {
				i++
			}
			start = i
			if end, err = calculateTokenEnd(start, size, l); err != nil {
				return nil, err
			}
			i = end
			push()
			continue
		}

		switch {
		case b == '"':
			current = TQuoted
			start = i + 1
		case b == '{':
			current = TLiteral
			start = i + 1
		case b == '(':
			current = TContainer
			t := push()
			stack = append(stack, &t.Tokens)
		case b == ')':
			if len(stack) == 1 {
				return nil, fmt.Errorf("unmatched ')' at char %d in %s", i, r)
			}
			stack = stack[:len(stack)-1]
		case IsAtomChar(b):
			current = TAtom
			start = i
		}
	}

	switch current {
	case TAtom:
		end = l - 1
		push()
	case TQuoted:
		return nil, fmt.Errorf("unterminated quoted string in %s", r)
	case TLiteral:
		return nil, fmt.Errorf("unterminated literal size in %s", r)
	}

	if depth := len(stack) - 1; depth != 0 {
		return nil, fmt.Errorf("mismatched parentheses, depth %d at end of parsing %s", depth, r)
	}

	if len(tokens) == 1 && tokens[0].Type == TContainer {
		tokens = tokens[0].Tokens
	}
	return tokens, nil
}

// Tokenize splits an argument string, such as a search criterion, into
// tokens. Literals written as {n}CRLF followed by n bytes come back as
// TLiteral tokens.
func Tokenize(s string) ([]*Token, error) {
	return parseTokens(s)
}

// ParseFetchResponse splits a multi-line response into its FETCH records
// and tokenizes the data items of each one. Lines that are not FETCH
// responses are ignored.
func ParseFetchResponse(responseBody string) (records [][]*Token, err error) {
	records = make([][]*Token, 0)
	body := strings.TrimSpace(responseBody)
	locs := fetchLineStartRE.FindAllStringIndex(body, -1)

	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		tokens, _, err := parseFetchLine(body[loc[0]:end])
		if err != nil {
			return nil, err
		}
		records = append(records, tokens)
	}
	return records, nil
}

// parseFetchLine tokenizes the data items of one "* n FETCH (...)" line,
// literals included. ok is false for any other response.
func parseFetchLine(line string) (tokens []*Token, ok bool, err error) {
	line = strings.TrimSpace(line)
	loc := fetchLineStartRE.FindStringIndex(line)
	if loc == nil || loc[0] != 0 {
		return nil, false, nil
	}
	tokens, err = parseTokens(line[loc[1]:])
	if err != nil {
		return nil, true, fmt.Errorf("token parsing failed for line [%s]: %w", line, err)
	}
	// Anything after the data item list belongs to other responses.
	if len(tokens) > 0 && tokens[0].Type == TContainer {
		tokens = tokens[0].Tokens
	}
	return tokens, true, nil
}

// parseNumberResponse collects the numbers of every untagged response
// named keyword, such as "* SEARCH 1 2 3" or "* SORT 3 1 2".
func parseNumberResponse(r, keyword string) ([]int, error) {
	nums := make([]int, 0)
	for line := range strings.SplitSeq(r, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "*" || !strings.EqualFold(fields[1], keyword) {
			continue
		}
		for _, f := range fields[2:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("invalid %s response %q: %w", keyword, strings.TrimSpace(line), err)
			}
			nums = append(nums, n)
		}
	}
	return nums, nil
}

// parseExists returns the message count announced by "* n EXISTS".
func parseExists(r string) int {
	m := existsRE.FindStringSubmatch(r)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// parseListLine parses one untagged LIST response into a Folder.
func parseListLine(line string) (Folder, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "* LIST ")
	if !ok {
		return Folder{}, fmt.Errorf("not a LIST response: %q", line)
	}
	tokens, err := parseTokens(rest)
	if err != nil {
		return Folder{}, err
	}
	if len(tokens) != 3 {
		return Folder{}, fmt.Errorf("expected 3 LIST items, got %d in %q", len(tokens), line)
	}
	if err := checkType(tokens[0], []TType{TContainer}, tokens, "for LIST attributes"); err != nil {
		return Folder{}, err
	}
	if err := checkType(tokens[1], []TType{TQuoted, TNil}, tokens, "for LIST delimiter"); err != nil {
		return Folder{}, err
	}
	if err := checkType(tokens[2], []TType{TQuoted, TLiteral, TAtom, TNumber}, tokens, "for LIST name"); err != nil {
		return Folder{}, err
	}

	f := Folder{Name: tokens[2].Str, Delimiter: tokens[1].Str}
	for _, a := range tokens[0].Tokens {
		f.Attributes = append(f.Attributes, a.Str)
	}
	return f, nil
}

// checkType reports an error unless token is one of the acceptable types.
func checkType(token *Token, acceptable []TType, tks []*Token, loc string, v ...any) error {
	for _, a := range acceptable {
		if token.Type == a {
			return nil
		}
	}
	types := make([]string, len(acceptable))
	for i, a := range acceptable {
		types[i] = a.String()
	}
	return fmt.Errorf("expected %s token %s, got %+v in %v", strings.Join(types, "|"), fmt.Sprintf(loc, v...), token, tks)
}
