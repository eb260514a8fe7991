package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

var (
	urlRegex    = regexp.MustCompile(`https?://[^\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	nonSlug     = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {}, "of": {}, "on": {},
	"at": {}, "and": {}, "near": {}, "from": {}, "with": {}, "this": {}, "that": {},
	"there": {}, "have": {}, "been": {}, "since": {}, "after": {}, "were": {}, "was": {},
	"are": {}, "is": {}, "be": {}, "it": {}, "its": {}, "by": {}, "into": {}, "about": {},
}

// CleanText strips HTML entities, URLs and punctuation and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// ExtractKeywords returns the most frequent words that are not stop-words.
// Ties are broken alphabetically so the result is stable.
func ExtractKeywords(text string, limit, minLen int) []string {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}

	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	n := limit
	if n <= 0 || n > len(pairs) {
		n = len(pairs)
	}

	keywords := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keywords = append(keywords, pairs[i].word)
	}
	return keywords
}

// MergeKeywords unions keyword lists preserving first-seen order, capped at limit.
func MergeKeywords(limit int, lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}

// TitleFromText returns the first sentence of text cut to at most maxChars
// runes. Truncated titles end with "...".
func TitleFromText(text string, maxChars int) string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(urlRegex.ReplaceAllString(text, " "), " "))
	if text == "" {
		return ""
	}

	if end := strings.IndexAny(text, ".!?"); end > 0 {
		text = strings.TrimSpace(text[:end])
	}

	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	cut := strings.TrimSpace(string(runes[:maxChars]))
	return cut + "..."
}

// Clip squeezes whitespace and cuts text to at most maxChars runes, marking a
// cut with "...".
func Clip(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return strings.TrimSpace(string(runes[:maxChars])) + "..."
}

// NormalizeArea turns a free-form area name into a lowercase slug without
// underscores, so it stays a single token inside grouping keys.
func NormalizeArea(area string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(area)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// BuildCandidateID hashes the stable fields of a raw report to form a
// deterministic id, used when the producer did not supply one.
func BuildCandidateID(source, text string, ts time.Time) string {
	s := sha1.Sum([]byte(source + "|" + text + "|" + ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(s[:])
}
