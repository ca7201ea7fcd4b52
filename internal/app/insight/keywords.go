package insight

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PabloGalante/chatsum/internal/domain"
)

const DefaultKeywordLimit = 10

type Keyword struct {
	Word  string
	Count int
}

var stopWords = map[string]bool{
	"about": true, "also": true, "been": true, "because": true, "being": true,
	"could": true, "does": true, "doing": true, "from": true, "have": true,
	"here": true, "into": true, "just": true, "like": true, "more": true,
	"only": true, "other": true, "over": true, "should": true, "some": true,
	"such": true, "than": true, "that": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "very": true, "want": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "will": true,
	"with": true, "would": true, "your": true,
}

// KeywordStep picks the most frequent words: lower-cased, alphabetic, longer
// than three characters and not stop words. Ties sort alphabetically.
type KeywordStep struct {
	limit int
}

func NewKeywordStep(limit int) *KeywordStep {
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}
	return &KeywordStep{limit: limit}
}

func (k *KeywordStep) Name() string {
	return "keywords"
}

func (k *KeywordStep) Run(_ context.Context, session *domain.ChatSession, r *Report) error {
	counts := make(map[string]int)
	for _, m := range session.Messages {
		for _, w := range words(m.Text) {
			counts[w]++
		}
	}

	kws := make([]Keyword, 0, len(counts))
	for w, c := range counts {
		kws = append(kws, Keyword{Word: w, Count: c})
	}
	slices.SortFunc(kws, func(a, b Keyword) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Word, b.Word)
	})

	if len(kws) > k.limit {
		kws = kws[:k.limit]
	}
	r.Keywords = kws
	return nil
}

func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 3 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}
