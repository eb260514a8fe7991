package classify

import "github.com/DeafMist/local-pulse/backend/internal/models"

var categoryLadder = []rung[models.Category]{
	{models.CategoryEmergency, set(
		"fire", "explosion", "bomb", "shooting", "violence", "collapse", "emergency",
		"ambulance", "rescue", "trapped", "stampede",
	)},
	{models.CategoryTraffic, set(
		"traffic", "jam", "congestion", "crash", "accident", "signal", "highway",
		"road", "junction", "flyover", "diversion", "vehicle", "bus", "lane",
	)},
	{models.CategoryWeather, set(
		"rain", "storm", "flood", "flooding", "waterlogging", "heat", "heatwave",
		"cyclone", "hail", "fog", "thunderstorm",
	)},
	{models.CategoryInfrastructure, set(
		"outage", "power", "electricity", "water", "pipeline", "metro", "bridge",
		"construction", "sewage", "streetlight",
	)},
	{models.CategoryCivicIssue, set(
		"pothole", "garbage", "waste", "drain", "stray", "encroachment", "noise",
		"littering", "footpath",
	)},
	{models.CategoryCulturalEvent, set(
		"festival", "concert", "parade", "exhibition", "fair", "celebration", "show",
	)},
	{models.CategoryCommunity, set(
		"meetup", "volunteer", "donation", "cleanup", "community", "neighbourhood",
		"neighborhood", "residents",
	)},
}

// Category guesses a category from keywords. Used only when neither a hint
// nor the enrichment service supplies one.
func Category(text string) models.Category {
	if v, ok := firstMatch(categoryLadder, Tokens(text)); ok {
		return v
	}
	return models.CategoryGeneral
}
