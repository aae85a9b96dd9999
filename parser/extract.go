package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	weightedAvgRe = regexp.MustCompile(`(?:WT?D\.?|WEIGHTED)\s*AVG\.?\s*(\d+(?:\.\d+)?)`)
	rangeRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)`)
	numberRe      = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ExtractPrice reads a single price from a report line. It prefers the
// report's weighted average, then the midpoint of a low-high range, then the
// last number on the line.
func ExtractPrice(line string) (float64, bool) {
	upper := strings.ToUpper(line)

	if m := weightedAvgRe.FindStringSubmatch(upper); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}

	if m := rangeRe.FindStringSubmatch(upper); m != nil {
		lo, errLo := strconv.ParseFloat(m[1], 64)
		hi, errHi := strconv.ParseFloat(m[2], 64)
		if errLo == nil && errHi == nil {
			return (lo + hi) / 2, true
		}
	}

	nums := numberRe.FindAllString(upper, -1)
	if len(nums) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(nums[len(nums)-1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
