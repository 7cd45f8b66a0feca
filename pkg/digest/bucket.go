package digest

import (
	"sort"
	"time"

	"github.com/elonfeng/timeline-digest/pkg/source"
)

const dayLayout = "2006-01-02"

// DayKey formats t as the calendar day it falls on in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// ItemDay returns the day key of an item's timestamp, or false when the
// item has no parseable timestamp.
func ItemDay(it source.Item, loc *time.Location) (string, bool) {
	t, ok := it.PostedTime()
	if !ok {
		return "", false
	}
	return DayKey(t, loc), true
}

// BucketByDay groups items by day key, keeping input order inside each
// bucket. Items without a usable timestamp are left out.
func BucketByDay(items []source.Item, loc *time.Location) map[string][]source.Item {
	buckets := make(map[string][]source.Item)
	for _, it := range items {
		day, ok := ItemDay(it, loc)
		if !ok {
			continue
		}
		buckets[day] = append(buckets[day], it)
	}
	return buckets
}

// DaysInWindow returns the bucket keys within [lower, upper], newest first.
// Day keys order lexically the same as chronologically.
func DaysInWindow(buckets map[string][]source.Item, lower, upper string) []string {
	var days []string
	for day := range buckets {
		if day >= lower && day <= upper {
			days = append(days, day)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days
}

// ValidDay reports whether s is a YYYY-MM-DD day key.
func ValidDay(s string) bool {
	_, err := time.Parse(dayLayout, s)
	return err == nil
}
