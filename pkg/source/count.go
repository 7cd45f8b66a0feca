package source

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var countPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)([kmb])?`)

// ParseCount turns a human-readable engagement label such as "1.2K",
// "3.1B" or "884 reposts" into an integer. Labels without a number yield 0;
// values beyond the int range saturate at math.MaxInt.
func ParseCount(label string) int {
	if label == "" {
		return 0
	}

	normalized := strings.ReplaceAll(strings.ToLower(label), ",", "")
	m := countPattern.FindStringSubmatch(normalized)
	if m == nil {
		return 0
	}

	base, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(base, 0) || math.IsNaN(base) {
		return 0
	}

	switch m[2] {
	case "k":
		base *= 1_000
	case "m":
		base *= 1_000_000
	case "b":
		base *= 1_000_000_000
	}
	base = math.Round(base)
	if base >= math.MaxInt {
		return math.MaxInt
	}
	return int(base)
}
