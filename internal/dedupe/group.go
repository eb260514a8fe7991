// Package dedupe collapses near-duplicate raw candidates into groups and keeps
// a bounded memory of ids that were already handled.
package dedupe

import (
	"sort"
	"strings"

	"github.com/DeafMist/local-pulse/backend/internal/classify"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

// Member is a candidate together with its effective category and severity.
type Member struct {
	Candidate models.RawCandidate
	Category  models.Category
	Severity  models.Severity
	// Hinted is true when both category and severity came from the producer
	// rather than the keyword classifiers.
	Hinted bool
}

// Group is one partition cell. Category and Area come from the key that
// survived the merge pass.
type Group struct {
	Key      string
	Category models.Category
	Area     string
	Members  []Member
}

// IDs returns member candidate ids in member order.
func (g Group) IDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.Candidate.ID)
	}
	return ids
}

// MaxSeverity returns the highest member severity.
func (g Group) MaxSeverity() models.Severity {
	sev := models.SeverityLow
	for _, m := range g.Members {
		sev = models.MaxSeverity(sev, m.Severity)
	}
	return sev
}

// Resolve derives a candidate's effective category and severity: a valid hint
// wins, otherwise the keyword classifiers decide.
func Resolve(c models.RawCandidate) Member {
	m := Member{Candidate: c}

	category, okCategory := models.ParseCategory(c.CategoryHint)
	if !okCategory {
		category = classify.Category(c.Body())
	}
	severity, okSeverity := models.ParseSeverity(c.SeverityHint)
	if !okSeverity {
		severity = classify.Severity(c.Body())
	}

	m.Category = category
	m.Severity = severity
	m.Hinted = okCategory && okSeverity
	return m
}

// Key builds the grouping key: category_area, plus _severity for HIGH and
// CRITICAL members so they are not diluted into a large bucket.
func Key(m Member) string {
	key := string(m.Category) + "_" + processing.NormalizeArea(m.Candidate.AreaName())
	if m.Severity.AtLeast(models.SeverityHigh) {
		key += "_" + string(m.Severity)
	}
	return key
}

// Partition groups candidates. Every input candidate lands in exactly one
// output group; groups are returned sorted by key.
//
// Groups with fewer than two members are folded into another group of equal
// or larger size when their keys share a category or area token. Keys are
// visited, and merge targets tried, in lexicographic order so the result does
// not depend on map iteration.
func Partition(candidates []models.RawCandidate) []Group {
	if len(candidates) == 0 {
		return nil
	}

	groups := make(map[string]*Group)
	for _, c := range candidates {
		m := Resolve(c)
		key := Key(m)
		g, ok := groups[key]
		if !ok {
			g = &Group{
				Key:      key,
				Category: m.Category,
				Area:     processing.NormalizeArea(c.AreaName()),
			}
			groups[key] = g
		}
		g.Members = append(g.Members, m)
	}

	keys := sortedKeys(groups)
	for _, key := range keys {
		small, ok := groups[key]
		if !ok || len(small.Members) >= 2 {
			continue
		}
		tokens := keyTokens(small)
		for _, target := range keys {
			if target == key {
				continue
			}
			big, ok := groups[target]
			if !ok || len(big.Members) < len(small.Members) {
				continue
			}
			if !overlaps(tokens, keyTokens(big)) {
				continue
			}
			big.Members = append(big.Members, small.Members...)
			delete(groups, key)
			break
		}
	}

	out := make([]Group, 0, len(groups))
	for _, key := range sortedKeys(groups) {
		out = append(out, *groups[key])
	}
	return out
}

func sortedKeys(groups map[string]*Group) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keyTokens returns the category and area tokens of a group key. The
// severity suffix and the "unknown" area placeholder do not count as overlap.
func keyTokens(g *Group) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.Split(string(g.Category), "_") {
		if t != "" {
			tokens[t] = struct{}{}
		}
	}
	if g.Area != "unknown" {
		tokens[g.Area] = struct{}{}
	}
	return tokens
}

func overlaps(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}
