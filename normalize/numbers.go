package normalize

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

var missingMarkers = []string{
	"", "-", "--", "---", "*", "****",
	"nan", "na", "n/a", "#n/a", "null", "none", "no data",
	"欠測", "閉局", "未登録",
}

// ParseFloat reads a portal value. It accepts decimal commas and trailing
// quality flags like "1.23$" and reports false for missing markers.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if slices.Contains(missingMarkers, strings.ToLower(s)) {
		return 0, false
	}

	s = strings.TrimRightFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.ReplaceAll(s, " ", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	return v, true
}

// IsSentinel reports whether v equals one of the provider's no-data values.
func IsSentinel(v float64, sentinels ...float64) bool {
	for _, s := range sentinels {
		if math.Abs(v-s) < 1e-9 {
			return true
		}
	}

	return false
}
