package validate

import (
	"regexp"
	"strings"

	"github.com/bibfleet/fleet/pkg/model"
)

// ClassifyResponse matches raw against primary (the PASS pattern) and the
// optional multi-level set, in the fixed order CRITICAL -> FAIL -> WARN ->
// PASS, first match wins (spec.md §4.D). A legacy command (levels == nil)
// falls back to binary success/failure using only primary.
func ClassifyResponse(raw []byte, primary *model.Pattern, levels *model.PatternSet) model.ValidationLevel {
	if levels != nil {
		if matches(raw, levels.Critical) {
			return model.LevelCritical
		}
		if matches(raw, levels.Fail) {
			return model.LevelFail
		}
		if matches(raw, levels.Warn) {
			return model.LevelWarn
		}
	}
	if matches(raw, primary) {
		return model.LevelPass
	}
	// No pattern matched. An explicit PASS pattern that failed to match
	// means the response was wrong -> FAIL; no PASS pattern configured at
	// all means there was no constraint -> PASS.
	if primary != nil {
		return model.LevelFail
	}
	return model.LevelPass
}

func matches(raw []byte, p *model.Pattern) bool {
	if p == nil {
		return false
	}
	if p.Regex {
		re, err := regexp.Compile(p.Text)
		if err != nil {
			return false
		}
		return re.Match(raw)
	}
	return strings.Contains(string(raw), p.Text)
}
