// Package pages counts pages in the free-form page field of bibliographic
// records, e.g. "23-43", "8e:1-8e:4" or "P1.35, 40-42".
package pages

import (
	"math"
	"strconv"
	"strings"
)

// Count returns the number of pages described by s. Comma separated parts
// are counted independently and summed. A part is either a single page
// ("51", "90210H") or a range of two pages ("23-43", "AG83-AG120"); only the
// last run of digits in a page designator is significant. Parts with more
// than one dash, parts without digits (roman numerals, "f") and descending
// ranges contribute nothing, as do ranges too long to count in an int. The
// total saturates at math.MaxInt. The second return value is false, if the
// total is zero, i.e. s is not parseable.
func Count(s string) (int, bool) {
	var total int
	for _, part := range strings.Split(s, ",") {
		n := countPart(part)
		if n > math.MaxInt-total {
			total = math.MaxInt
			continue
		}
		total += n
	}
	return total, total > 0
}

// Format returns the page count of s as text, or the empty string if s
// cannot be parsed.
func Format(s string) string {
	n, ok := Count(s)
	if !ok {
		return ""
	}
	return strconv.Itoa(n)
}

func countPart(part string) int {
	subparts := strings.Split(part, "-")
	switch len(subparts) {
	case 1:
		if lastDigits(subparts[0]) == "" {
			return 0
		}
		return 1
	case 2:
		lo, err := strconv.Atoi(lastDigits(subparts[0]))
		if err != nil {
			return 0
		}
		hi, err := strconv.Atoi(lastDigits(subparts[1]))
		if err != nil {
			return 0
		}
		if hi < lo || hi-lo == math.MaxInt {
			return 0
		}
		return hi - lo + 1
	default:
		return 0
	}
}

// lastDigits returns the last maximal run of ASCII digits in s, e.g. "23"
// for "P17.23" and "1" for "8e:1", or the empty string.
func lastDigits(s string) string {
	end := len(s)
	for end > 0 && !isDigit(s[end-1]) {
		end--
	}
	start := end
	for start > 0 && isDigit(s[start-1]) {
		start--
	}
	return s[start:end]
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
