// Package keywords canonicalizes thematic keyword lists and generates new ones
// from entry text via the Gemini API.
package keywords

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultMax is the keyword cap applied after normalization unless the
// configuration overrides it.
const DefaultMax = 25

// Keyword pairs a normalized word with a relevance weight in [1,3].
type Keyword struct {
	Word   string `json:"word"`
	Weight int    `json:"weight"`
}

var trailingPunct = regexp.MustCompile(`[.,;:]+$`)

// NormalizeWord lowercases, strips accents (NFKD minus combining marks),
// collapses internal whitespace and drops trailing punctuation.
func NormalizeWord(w string) string {
	w = strings.Join(strings.Fields(strings.ToLower(w)), " ")
	w = strings.ReplaceAll(w, "_", " ")
	w = stripAccents(w)
	w = trailingPunct.ReplaceAllString(w, "")
	return strings.TrimSpace(w)
}

func stripAccents(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize dedupes by normalized word keeping the maximum weight, clamps
// weights to [1,3], sorts by descending weight then ascending word, and
// truncates to max entries. max <= 0 means no cap.
//
// Normalize is idempotent: Normalize(Normalize(x, n), n) == Normalize(x, n).
func Normalize(kws []Keyword, max int) []Keyword {
	best := map[string]int{}
	for _, kw := range kws {
		w := NormalizeWord(kw.Word)
		if w == "" {
			continue
		}
		weight := kw.Weight
		if weight < 1 {
			weight = 1
		}
		if weight > 3 {
			weight = 3
		}
		if weight > best[w] {
			best[w] = weight
		}
	}

	out := make([]Keyword, 0, len(best))
	for w, weight := range best {
		out = append(out, Keyword{Word: w, Weight: weight})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Word < out[j].Word
	})

	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// Equal reports whether two keyword lists are the same after full (uncapped)
// normalization. This is the change-detection equality, not raw JSON equality.
func Equal(a, b []Keyword) bool {
	na, nb := Normalize(a, 0), Normalize(b, 0)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// payload is the envelope form of a keyword list: either the list itself,
// {"keywords": [...]}, or {"date": ..., "keywords": [...]}.
type payload struct {
	Date     string            `json:"date"`
	Keywords []json.RawMessage `json:"keywords"`
}

// looseKeyword tolerates the weight arriving as a non-integer; such weights
// fall back to 1.
type looseKeyword struct {
	Word   string          `json:"word"`
	Weight json.RawMessage `json:"weight"`
}

// ParsePayload decodes a keyword payload in any of the three accepted shapes
// and returns the raw (un-normalized) list. Non-object items are skipped and
// missing or non-integer weights default to 1; malformed JSON is an error.
func ParsePayload(data []byte) ([]Keyword, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("keyword payload is empty")
	}

	var items []json.RawMessage
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("keyword payload: %w", err)
		}
	} else {
		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("keyword payload: %w", err)
		}
		items = p.Keywords
	}

	out := make([]Keyword, 0, len(items))
	for _, raw := range items {
		var item looseKeyword
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		weight := 1
		if len(item.Weight) > 0 {
			var n int
			if err := json.Unmarshal(item.Weight, &n); err == nil {
				weight = n
			}
		}
		out = append(out, Keyword{Word: item.Word, Weight: weight})
	}
	return out, nil
}
