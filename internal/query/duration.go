package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// FormatISODuration renders d in the ISO-8601 form the routing service expects,
// using whole minutes when possible ("PT120M") and seconds otherwise ("PT90S").
func FormatISODuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	if d%time.Minute == 0 {
		return fmt.Sprintf("PT%dM", int64(d/time.Minute))
	}
	return fmt.Sprintf("PT%dS", int64(d/time.Second))
}

// ParseISODuration parses the PT#H#M#S subset of ISO-8601 durations
func ParseISODuration(raw string) (time.Duration, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	m := isoDurationPattern.FindStringSubmatch(raw)
	if m == nil || raw == "PT" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", raw)
	}
	var d time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", raw, err)
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}
