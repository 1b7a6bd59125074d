package librelinkup

import (
	"github.com/rs/zerolog/log"

	"glucolink/internal/domain"
)

// Exact-match table from vendor trend phrases to canonical directions,
// including wording variants seen in the wild. No fuzzy matching: an
// ambiguous phrase is worse mapped wrong than reported unmapped.
var trendArrows = map[string]domain.Direction{
	"Rising Quickly":  domain.DirectionDoubleUp,
	"Rapidly Rising":  domain.DirectionDoubleUp,
	"Rising":          domain.DirectionSingleUp,
	"Rising Slowly":   domain.DirectionFortyFiveUp,
	"Stable":          domain.DirectionFlat,
	"Falling Slowly":  domain.DirectionFortyFiveDown,
	"Falling":         domain.DirectionSingleDown,
	"Falling Quickly": domain.DirectionDoubleDown,
	"Rapidly Falling": domain.DirectionDoubleDown,
}

// MapTrendArrow maps a vendor trend phrase to a canonical direction. Empty
// input maps silently to None; an unknown phrase also maps to None but is
// logged so new vendor vocabulary shows up in operation.
func MapTrendArrow(phrase string) domain.Direction {
	if phrase == "" {
		return domain.DirectionNone
	}
	if d, ok := trendArrows[phrase]; ok {
		return d
	}
	log.Warn().Str("trend_arrow", phrase).Msg("unmapped trend arrow phrase")
	return domain.DirectionNone
}
