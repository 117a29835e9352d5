// Package timeutil parses and formats the timestamp spellings that occur in
// scan feeds and imported reports. The accepted input formats are a fixed
// legacy set; their exact acceptance behavior is a compatibility surface and
// must not be widened or narrowed.
package timeutil

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sentinel spellings that mean "time not set". These include unexpanded
// version-control date tags that leak into feed metadata.
var unsetSpellings = map[string]struct{}{
	"":         {},
	"$Date$":   {},
	"$Date: $": {},
	"$Date:$":  {},
	"$Date":    {},
}

// pattern pairs a prefix matcher with the reference layout used to parse
// the matched text. Trailing annotations such as "(Tue, 09 Aug 2011)" are
// outside the match and ignored.
type pattern struct {
	prefix *regexp.Regexp
	layout string
}

// patterns is ordered; the first match wins.
var patterns = []pattern{
	// 2011-08-09 08:20:34 +0200
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} [+-]\d{4}`),
		"2006-01-02 15:04:05 -0700"},
	// $Date: 2011-08-09 08:20:34 +0200
	{regexp.MustCompile(`^\$Date: \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} [+-]\d{4}`),
		"$Date: 2006-01-02 15:04:05 -0700"},
	// Tue Aug  9 08:20:34 2011 +0200
	{regexp.MustCompile(`^[A-Za-z]{3} [A-Za-z]{3} +\d{1,2} \d{2}:\d{2}:\d{2} \d{4} [+-]\d{4}`),
		"Mon Jan 2 15:04:05 2006 -0700"},
	// $Date: Tue, 09 Aug 2011 08:20:34 +0200
	{regexp.MustCompile(`^\$Date: [A-Za-z]{3}, +\d{1,2} [A-Za-z]{3} \d{4} \d{2}:\d{2}:\d{2} [+-]\d{4}`),
		"$Date: Mon, 2 Jan 2006 15:04:05 -0700"},
	// $Date: Tue Aug  9 08:20:34 2011 +0200
	{regexp.MustCompile(`^\$Date: [A-Za-z]{3} [A-Za-z]{3} +\d{1,2} \d{2}:\d{2}:\d{2} \d{4} [+-]\d{4}`),
		"$Date: Mon Jan 2 15:04:05 2006 -0700"},
}

var offsetRe = regexp.MustCompile(`([+-])(\d{2})(\d{2})`)
var spaceRunRe = regexp.MustCompile(` +`)

// ParseTime converts a feed timestamp to a UTC epoch. Unset sentinels and
// anything unparsable yield zero; this never fails hard, an unknown time is
// an ordinary outcome.
func ParseTime(text string) int64 {
	if _, unset := unsetSpellings[text]; unset {
		return 0
	}
	for _, p := range patterns {
		match := p.prefix.FindString(text)
		if match == "" {
			continue
		}
		parsed, err := time.Parse(p.layout, spaceRunRe.ReplaceAllString(match, " "))
		if err != nil {
			slog.Warn("failed to parse timestamp", "text", text, "error", err)
			return 0
		}
		return epochFrom(parsed, text)
	}
	slog.Warn("unrecognized timestamp format", "text", text)
	return 0
}

// epochFrom rebuilds the epoch from the parsed wall-clock fields and the
// numeric offset taken from the raw text. The offset in the parsed value is
// deliberately not trusted; a west-of-UTC offset is added back and an
// east-of-UTC offset subtracted.
func epochFrom(parsed time.Time, text string) int64 {
	wall := time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, time.UTC).Unix()

	groups := offsetRe.FindStringSubmatch(text)
	if groups == nil {
		return wall
	}
	hours, _ := strconv.Atoi(groups[2])
	minutes, _ := strconv.Atoi(groups[3])
	seconds := int64(hours*3600 + minutes*60)
	if groups[1] == "-" {
		return wall + seconds
	}
	return wall - seconds
}

// ISOTime renders an epoch as an ISO-8601 UTC timestamp. Epoch zero means
// "time not set" and renders empty.
func ISOTime(epoch int64) string {
	if epoch == 0 {
		return ""
	}
	return time.Unix(epoch, 0).UTC().Format("2006-01-02T15:04:05Z")
}

// CurrentOffset returns the offset from UTC, in seconds east, that the
// named zone has right now. Unknown zones report zero.
func CurrentOffset(zone string) int {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return 0
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		slog.Warn("unknown timezone", "zone", zone, "error", err)
		return 0
	}
	_, offset := time.Now().In(loc).Zone()
	return offset
}

// Now returns the current UTC epoch.
func Now() int64 {
	return time.Now().Unix()
}
