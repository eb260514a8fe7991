// Package classify holds the deterministic keyword classifiers the pipeline
// falls back to when the enrichment service is unavailable.
package classify

import (
	"strings"
	"unicode"

	"github.com/DeafMist/local-pulse/backend/internal/models"
)

type rung[T any] struct {
	value T
	words map[string]struct{}
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Evaluated top to bottom; the first rung with a matching token wins.
var severityLadder = []rung[models.Severity]{
	{models.SeverityCritical, set(
		"crash", "fatal", "death", "dead", "killed", "explosion", "fire", "collapse",
		"collapsed", "emergency", "bomb", "violence", "shooting", "riot", "stampede",
	)},
	{models.SeverityHigh, set(
		"accident", "injured", "blocked", "breakdown", "major", "urgent", "trapped",
		"medical", "ambulance",
	)},
	{models.SeverityModerate, set(
		"slow", "delayed", "issue", "problem", "minor", "disruption", "outage",
		"pothole", "garbage",
	)},
}

// Severity classifies text with the fixed keyword ladder. Empty text is LOW.
func Severity(text string) models.Severity {
	if v, ok := firstMatch(severityLadder, Tokens(text)); ok {
		return v
	}
	return models.SeverityLow
}

// Tokens lowercases text and splits it on anything that is not a letter or digit.
func Tokens(text string) []string {
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func firstMatch[T any](ladder []rung[T], tokens []string) (T, bool) {
	for _, r := range ladder {
		for _, tok := range tokens {
			if _, ok := r.words[tok]; ok {
				return r.value, true
			}
			// plural forms: "accidents", "potholes"
			if strings.HasSuffix(tok, "s") {
				if _, ok := r.words[strings.TrimSuffix(tok, "s")]; ok {
					return r.value, true
				}
			}
		}
	}
	var zero T
	return zero, false
}
