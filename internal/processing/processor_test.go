package processing_test

import (
	"testing"
	"time"

	"github.com/DeafMist/local-pulse/backend/internal/processing"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "punctuation", input: "Road blocked!!!   again", want: "Road blocked again"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz", want: "foo bar baz"},
		{name: "remove urls", input: "See https://example.com for info", want: "See for info"},
		{name: "html entities", input: "Rain &amp; wind", want: "Rain wind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processing.CleanText(tt.input); got != tt.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	text := "Traffic traffic jam jam jam near the flyover and the flyover"
	got := processing.ExtractKeywords(text, 3, 3)
	require.Equal(t, []string{"jam", "flyover", "traffic"}, got)

	require.Nil(t, processing.ExtractKeywords("", 5, 3))
}

func TestExtractKeywordsIgnoresURLWords(t *testing.T) {
	text := "pothole pothole https://example.com/road-report garbage"
	got := processing.ExtractKeywords(text, 3, 3)
	require.ElementsMatch(t, []string{"pothole", "garbage"}, got)
}

func TestMergeKeywords(t *testing.T) {
	got := processing.MergeKeywords(3, []string{"a", "b"}, []string{"b", "c", "d"})
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Nil(t, processing.MergeKeywords(3))
}

func TestTitleFromText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     string
	}{
		{name: "empty", text: "", maxChars: 10, want: ""},
		{name: "single sentence", text: "Water main burst on 3rd street.", maxChars: 80, want: "Water main burst on 3rd street"},
		{name: "multiple sentences", text: "Signal down at Sony junction! Expect delays.", maxChars: 80, want: "Signal down at Sony junction"},
		{name: "truncated", text: "Massive queue outside the passport office today", maxChars: 14, want: "Massive queue..."},
		{name: "unlimited", text: "Short note", maxChars: 0, want: "Short note"},
		{name: "url only prefix", text: "https://x.io Tree fell", maxChars: 80, want: "Tree fell"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.TitleFromText(tt.text, tt.maxChars))
		})
	}
}

func TestClip(t *testing.T) {
	require.Equal(t, "Road closed near the lake", processing.Clip("  Road closed\n near   the lake ", 40))
	require.Equal(t, "Road...", processing.Clip("Road closed near the lake", 5))
	require.Equal(t, "", processing.Clip("   ", 10))
	require.Equal(t, "no limit", processing.Clip("no limit", 0))
}

func TestNormalizeArea(t *testing.T) {
	require.Equal(t, "koramangala", processing.NormalizeArea(" Koramangala "))
	require.Equal(t, "hsr-layout-sector-2", processing.NormalizeArea("HSR_Layout, Sector 2"))
	require.Equal(t, "unknown", processing.NormalizeArea(""))
	require.Equal(t, "unknown", processing.NormalizeArea("__"))
}

func TestBuildCandidateID(t *testing.T) {
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	id1 := processing.BuildCandidateID("user", "text", ts)
	id2 := processing.BuildCandidateID("user", "text", ts)
	require.NotEmpty(t, id1)
	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, processing.BuildCandidateID("external", "text", ts))
}
