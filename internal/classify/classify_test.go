package classify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/classify"
	"github.com/DeafMist/local-pulse/backend/internal/models"
)

func TestSeverity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Severity
	}{
		{name: "empty", text: "", want: models.SeverityLow},
		{name: "whitespace", text: "   ", want: models.SeverityLow},
		{name: "critical", text: "fatal crash on the highway", want: models.SeverityCritical},
		{name: "moderate", text: "minor pothole near the signal", want: models.SeverityModerate},
		{name: "high", text: "ambulance called after accident", want: models.SeverityHigh},
		{name: "critical beats high", text: "Accident and FIRE reported", want: models.SeverityCritical},
		{name: "plural", text: "two potholes on 5th cross", want: models.SeverityModerate},
		{name: "punctuation", text: "Road blocked!!!", want: models.SeverityHigh},
		{name: "no substring match", text: "firefly show at the lake", want: models.SeverityLow},
		{name: "calm", text: "lovely evening at the park", want: models.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, classify.Severity(tt.text))
		})
	}
}

func TestSeverityIsDeterministic(t *testing.T) {
	text := "urgent: major outage and garbage pile up"
	first := classify.Severity(text)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, classify.Severity(text))
	}
	require.Equal(t, models.SeverityHigh, first)
}

func TestCategory(t *testing.T) {
	tests := []struct {
		text string
		want models.Category
	}{
		{"heavy traffic jam at silk board junction", models.CategoryTraffic},
		{"fire in a warehouse", models.CategoryEmergency},
		{"flooding after heavy rain", models.CategoryWeather},
		{"power outage since morning", models.CategoryInfrastructure},
		{"garbage not collected for a week", models.CategoryCivicIssue},
		{"music festival this weekend", models.CategoryCulturalEvent},
		{"residents organise a cleanup drive", models.CategoryCommunity},
		{"something happened", models.CategoryGeneral},
		{"", models.CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			require.Equal(t, tt.want, classify.Category(tt.text))
		})
	}
}
