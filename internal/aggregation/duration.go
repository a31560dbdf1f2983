package aggregation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var isoDuration = regexp.MustCompile(`^P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseScormDuration converts a SCORM session or total time to whole seconds.
// It accepts HH:MM:SS[.ff], MM:SS, bare seconds and the SCORM 2004 ISO 8601
// form (PT1H2M3S). Fractions are truncated and malformed input yields 0.
func ParseScormDuration(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if s[0] == 'P' {
		return parseISODuration(s)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	var total int64
	for i, p := range parts {
		if i == len(parts)-1 {
			if dot := strings.IndexByte(p, '.'); dot >= 0 {
				if !allDigits(p[dot+1:]) {
					return 0
				}
				p = p[:dot]
			}
		}
		if !allDigits(p) || p == "" {
			return 0
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0
		}
		if total > (math.MaxInt64-n)/60 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

func parseISODuration(s string) int64 {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0
	}
	units := []float64{365 * 86400, 30 * 86400, 86400, 3600, 60, 1}
	var total float64
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0
		}
		total += v * unit
	}
	if total >= math.MaxInt64 {
		return 0
	}
	return int64(math.Floor(total))
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
