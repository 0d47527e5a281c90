package rfc9111

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time
// §  in seconds.
// §
// §      delta-seconds  = 1*DIGIT
// §
// §  [...] If a cache receives a delta-seconds value greater than the greatest
// §  integer it can represent, or if any of its subsequent calculations overflows,
// §  the cache MUST consider the value to be 2147483648 (2^31) or the greatest
// §  positive integer it can conveniently represent.
const maxDeltaSeconds = 2147483648

// deltaSeconds parses a delta-seconds value.
// Anything after the digits (parameters, garbage) is ignored.
func deltaSeconds(secondsStr string) (time.Duration, bool) {
	end := 0
	for end < len(secondsStr) && secondsStr[end] >= '0' && secondsStr[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	seconds, err := strconv.ParseUint(secondsStr[:end], 10, 64)
	if err != nil || seconds > maxDeltaSeconds {
		seconds = maxDeltaSeconds
	}
	return time.Second * time.Duration(seconds), true
}

func toDeltaSeconds(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	return fmt.Sprintf("%.f", math.Floor(duration.Seconds()))
}

// This section is from the HTTP specification (RFC9110), not the cache specification
//
// §  5.6.7.  Date/Time Formats
// §
// §       HTTP-date    = IMF-fixdate / obs-date
// §
// §     An example of the preferred format is
// §
// §       Sun, 06 Nov 1994 08:49:37 GMT    ; IMF-fixdate
// §
// §     Examples of the two obsolete formats are
// §
// §       Sunday, 06-Nov-94 08:49:37 GMT   ; obsolete RFC 850 format
// §       Sun Nov  6 08:49:37 1994         ; ANSI C's asctime() format
// §
// §     A recipient that parses a timestamp value in an HTTP field MUST
// §     accept all three HTTP-date formats.
func HttpDate(dateStr string) (time.Time, error) {
	str := strings.TrimSpace(dateStr)
	date, err := imfDate(str)
	if err == nil {
		return date, nil
	}
	// try to parse as obsolete date
	if date, obsErr := obsDate(str); obsErr == nil {
		return date, nil
	}
	// return original error if unsuccessful
	return time.Time{}, err
}

func imfDate(dateStr string) (time.Time, error) {
	// §  [...] a cache recipient SHOULD match the field value case-insensitively.
	date, err := time.Parse(time.RFC1123, normalizeZone(dateStr))
	if err != nil {
		return date, err
	}
	// §  A cache recipient SHOULD consider a date with a zone abbreviation
	// §  other than "GMT" to be invalid for calculating expiration.
	if name, _ := date.Zone(); name != "GMT" && name != "UTC" {
		return time.Time{}, fmt.Errorf("date %s is not in GMT, but %s", dateStr, name)
	}
	return date.UTC(), nil
}

func obsDate(dateStr string) (time.Time, error) {
	if date, err := time.Parse(time.RFC850, normalizeZone(dateStr)); err == nil {
		return date.UTC(), nil
	}
	// §  [...] values in the asctime format are assumed to be in UTC.
	return time.Parse(time.ANSIC, dateStr)
}

// normalizeZone upper-cases a trailing zone abbreviation, leaving the
// day and month names alone since time.Parse matches those exactly.
func normalizeZone(dateStr string) string {
	idx := strings.LastIndex(dateStr, " ")
	if idx < 0 {
		return dateStr
	}
	return dateStr[:idx+1] + strings.ToUpper(dateStr[idx+1:])
}
