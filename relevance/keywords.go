package relevance

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenClass decides how a keyword is matched against content.
type TokenClass int

const (
	// ClassASCII tokens are plain ASCII letters and digits, matched on word
	// boundaries.
	ClassASCII TokenClass = iota
	// ClassCJK tokens contain non-ASCII letters; matched by containment since
	// scripts like Chinese have no word boundaries.
	ClassCJK
	// ClassSymbolic tokens carry punctuation such as ".NET", "GPT-4" or "C++".
	ClassSymbolic
)

func (c TokenClass) String() string {
	switch c {
	case ClassASCII:
		return "ascii"
	case ClassCJK:
		return "cjk"
	case ClassSymbolic:
		return "symbolic"
	}
	return "unknown"
}

// Keyword is one query token after stopword removal.
type Keyword struct {
	Text  string
	Class TokenClass
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "a": {}, "an": {}, "in": {},
	"on": {}, "for": {}, "with": {}, "is": {}, "are": {}, "was": {}, "were": {},
}

// edgeTrim is stripped from both ends of a raw query token. A leading dot is
// kept because it is meaningful in tokens like ".net".
const edgeTrim = "\"'`()[]{}<>,;:!?“”‘’「」『』（），。！？、"

// innerSeparators split a whitespace field into several tokens. '.', '-',
// '+' and '#' are not among them so ".net", "gpt-4" and "c++" stay whole.
const innerSeparators = ",/;:'’‘，、；：|"

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(innerSeparators, r)
}

// ExtractKeywords tokenizes query on whitespace and inner separators, drops
// stopwords and duplicates, and classifies what is left. Order follows the
// query.
func ExtractKeywords(query string) []Keyword {
	fields := strings.FieldsFunc(strings.ToLower(query), isSeparator)
	keywords := make([]Keyword, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))

	for _, field := range fields {
		token := strings.Trim(field, edgeTrim)
		token = strings.TrimRight(token, ".")
		if token == "" || !hasLetterOrDigit(token) {
			continue
		}
		if _, ok := stopwords[token]; ok {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, Keyword{Text: token, Class: classify(token)})
	}
	return keywords
}

func classify(token string) TokenClass {
	ascii := true
	for _, r := range token {
		if !isWordRune(r) {
			return ClassSymbolic
		}
		if r >= utf8.RuneSelf {
			ascii = false
		}
	}
	if ascii {
		return ClassASCII
	}
	return ClassCJK
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// matchOutcome is the result of looking for one keyword in content.
type matchOutcome struct {
	matched bool
	// filtered is set when at least one occurrence was discarded as part
	// of a URL.
	filtered bool
}

// matchKeyword looks for kw in content, which must already be lower-cased.
func matchKeyword(content string, kw Keyword) matchOutcome {
	switch kw.Class {
	case ClassASCII:
		return matchOutcome{matched: containsWord(content, kw.Text)}
	case ClassCJK:
		return matchOutcome{matched: strings.Contains(content, kw.Text)}
	default:
		return matchSymbolic(content, kw.Text)
	}
}

// containsWord finds word with an ASCII word boundary on both sides, the
// same boundary rule as regexp's \b.
func containsWord(content, word string) bool {
	if word == "" {
		return false
	}
	for offset := 0; offset <= len(content)-len(word); {
		idx := strings.Index(content[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)
		if (start == 0 || !isASCIIWordByte(content[start-1])) &&
			(end == len(content) || !isASCIIWordByte(content[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isASCIIWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

const urlLookback = 20

var urlMarkers = []string{"http://", "https://", "www.", "://"}

// matchSymbolic requires a non-word rune (or the text edge) on both sides of
// an occurrence. Dot-leading tokens skip the left check and instead drop
// occurrences that sit inside a hostname or URL.
func matchSymbolic(content, token string) matchOutcome {
	var out matchOutcome
	dotLeading := strings.HasPrefix(token, ".")

	for offset := 0; offset <= len(content)-len(token); {
		idx := strings.Index(content[offset:], token)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(token)
		offset = start + 1

		if !boundaryAfter(content, end) {
			continue
		}
		if dotLeading {
			if looksLikeURL(content, start) {
				out.filtered = true
				continue
			}
			out.matched = true
			continue
		}
		if boundaryBefore(content, start) {
			out.matched = true
		}
	}
	return out
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// looksLikeURL reports whether the occurrence at start is glued to a
// preceding alphanumeric or hyphen, or follows a URL marker closely.
func looksLikeURL(s string, start int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return true
		}
	}
	from := max(0, start-urlLookback)
	window := s[from:start]
	for _, marker := range urlMarkers {
		if strings.Contains(window, marker) {
			return true
		}
	}
	return false
}
