// Package moderation masks censored words in public room messages
// before they are persisted or broadcast. Direct messages are not
// filtered.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Filter matches censored words with an Aho-Corasick automaton built
// over a normalized alphabet, then masks the matched span in the
// original text while preserving spacing and length.
type Filter struct {
	matcher *goahocorasick.Machine
	mask    rune
}

// NewFilter builds the automaton from the word list. Words are
// normalized the same way inputs are, so "b4dger" matches "badger".
func NewFilter(words []string, mask rune) (*Filter, error) {
	patterns := make([][]rune, len(words))
	for i, word := range words {
		patterns[i] = normalize([]rune(word))
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{matcher: machine, mask: mask}, nil
}

// Apply returns the input with every censored span masked. The input
// comes back untouched when nothing matches.
func (f *Filter) Apply(original string) string {
	origRunes := []rune(original)
	searchable, origIdx := normalizeIndexed(origRunes)
	if len(searchable) == 0 {
		return original
	}

	spans := f.matcher.MultiPatternSearch(searchable, false)
	if len(spans) == 0 {
		return original
	}

	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			origRunes[i] = f.mask
		}
	}
	return string(origRunes)
}

// normalizeIndexed lowers and simplifies the input, dropping noise
// runes, and records where each kept rune sat in the original.
func normalizeIndexed(origRunes []rune) ([]rune, []int) {
	searchable := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplify(r)
		if isNoise(clean) {
			continue
		}
		searchable = append(searchable, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return searchable, origIdx
}

func normalize(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplify(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplify maps common leet-speak characters back to their alphabet
// counterparts.
func simplify(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
