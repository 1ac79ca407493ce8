package cache

import (
	"strconv"
	"strings"
	"time"
)

const keyDelimiter = "_"

// Key joins semantic parts into a cache key. Callers must pass parts in a
// fixed order so identical queries always produce identical keys.
func Key(parts ...string) string {
	return strings.Join(parts, keyDelimiter)
}

// GeoKey builds keys like "ai_recs_romantic_40.71_-74.01". Coordinates are
// rounded to two decimals (about 1km) so nearby lookups share an entry.
func GeoKey(prefix, category string, lat, lon float64) string {
	return Key(prefix, category, formatCoord(lat), formatCoord(lon))
}

func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

// TimeBucket returns the start of the d-sized window containing t as a key part.
func TimeBucket(t time.Time, d time.Duration) string {
	return strconv.FormatInt(t.Truncate(d).Unix(), 10)
}
