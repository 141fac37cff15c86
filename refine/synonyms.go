package refine

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const modeBidirectional = "bidirectional"

var ErrInvalidSynonyms = errors.New("invalid synonym table")

// Synonyms rewrites whole-word terms into OR-groups of their alternatives.
// A nil *Synonyms is an empty table.
type Synonyms struct {
	bidirectional bool
	rules         []synonymRule
}

type synonymRule struct {
	term        string
	replacement string
}

type synonymFile struct {
	Mode     string         `yaml:"mode"`
	Synonyms map[string]any `yaml:"synonyms"`
}

// LoadSynonyms reads a {mode, synonyms} table from a JSON or YAML file.
// Entries whose alternatives are not a list of non-blank strings are skipped.
func LoadSynonyms(path string) (*Synonyms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms %s: %w", path, err)
	}

	var raw synonymFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSynonyms, path, err)
	}
	if raw.Synonyms == nil {
		return nil, fmt.Errorf("%w: %s has no synonyms field", ErrInvalidSynonyms, path)
	}

	terms := make(map[string][]string, len(raw.Synonyms))
	for term, value := range raw.Synonyms {
		list, ok := value.([]any)
		if !ok || strings.TrimSpace(term) == "" {
			continue
		}
		var alternatives []string
		for _, v := range list {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				alternatives = append(alternatives, s)
			}
		}
		if len(alternatives) > 0 {
			terms[term] = alternatives
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: %s has no valid entries", ErrInvalidSynonyms, path)
	}

	return NewSynonyms(terms, strings.EqualFold(raw.Mode, modeBidirectional)), nil
}

// NewSynonyms builds a table. In bidirectional mode every alternative also
// expands back to its term.
func NewSynonyms(terms map[string][]string, bidirectional bool) *Synonyms {
	type entry struct {
		term         string
		alternatives []string
	}
	byKey := make(map[string]*entry, len(terms))
	add := func(term string, alternatives ...string) {
		key := strings.ToLower(term)
		e, ok := byKey[key]
		if !ok {
			e = &entry{term: term}
			byKey[key] = e
		}
		for _, alt := range alternatives {
			if strings.EqualFold(alt, e.term) || slices.ContainsFunc(e.alternatives, func(s string) bool {
				return strings.EqualFold(s, alt)
			}) {
				continue
			}
			e.alternatives = append(e.alternatives, alt)
		}
	}

	// Forward entries first so an explicit term keeps its own spelling.
	keys := make([]string, 0, len(terms))
	for term := range terms {
		keys = append(keys, term)
	}
	slices.Sort(keys)
	for _, term := range keys {
		add(term, terms[term]...)
	}
	if bidirectional {
		for _, term := range keys {
			for _, alt := range terms[term] {
				add(alt, term)
			}
		}
	}

	rules := make([]synonymRule, 0, len(byKey))
	for _, e := range byKey {
		if len(e.alternatives) == 0 {
			continue
		}
		rules = append(rules, synonymRule{term: e.term, replacement: orGroup(e.term, e.alternatives)})
	}
	// Longest term first, so "machine learning" wins over "learning".
	slices.SortFunc(rules, func(a, b synonymRule) int {
		if c := cmp.Compare(utf8.RuneCountInString(b.term), utf8.RuneCountInString(a.term)); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.term), strings.ToLower(b.term))
	})

	return &Synonyms{bidirectional: bidirectional, rules: rules}
}

// Len is the number of expandable terms.
func (s *Synonyms) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

func (s *Synonyms) Bidirectional() bool {
	return s != nil && s.bidirectional
}

// Expand replaces every case-insensitive whole-word occurrence of a known
// term in one left-to-right pass. Inserted groups are never rescanned.
func (s *Synonyms) Expand(query string) string {
	if s.Len() == 0 || query == "" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); {
		if rule, ok := s.matchAt(query, i); ok {
			b.WriteString(rule.replacement)
			i += len(rule.term)
			continue
		}
		_, size := utf8.DecodeRuneInString(query[i:])
		b.WriteString(query[i : i+size])
		i += size
	}
	return b.String()
}

func (s *Synonyms) matchAt(query string, i int) (synonymRule, bool) {
	if i > 0 && isASCIIWordByte(query[i-1]) {
		return synonymRule{}, false
	}
	for _, rule := range s.rules {
		end := i + len(rule.term)
		if end > len(query) || !strings.EqualFold(query[i:end], rule.term) {
			continue
		}
		if end < len(query) && isASCIIWordByte(query[end]) {
			continue
		}
		return rule, true
	}
	return synonymRule{}, false
}

func isASCIIWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func orGroup(term string, alternatives []string) string {
	parts := make([]string, 0, len(alternatives)+1)
	for _, item := range append([]string{term}, alternatives...) {
		if strings.Contains(item, " ") {
			item = `"` + item + `"`
		}
		parts = append(parts, item)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
