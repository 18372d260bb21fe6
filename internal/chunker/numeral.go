package chunker

import (
	"fmt"
	"strconv"
	"strings"
)

var numeralDigits = map[rune]int{
	'零': 0,
	'一': 1,
	'二': 2,
	'三': 3,
	'四': 4,
	'五': 5,
	'六': 6,
	'七': 7,
	'八': 8,
	'九': 9,
	'两': 2,
}

var numeralUnits = map[rune]int{
	'十': 10,
	'百': 100,
	'千': 1000,
	'万': 10000,
	'亿': 100000000,
}

// Units of 万 and above close out the running section instead of scaling it.
const sectionUnit = 10000

// ParseNumeral converts a chapter numeral to an int. The token may be plain
// ASCII digits ("1713") or Chinese ("一千七百一十四"). A bare unit implies a
// leading 1 (十五 is 15), and 零 is a placeholder that contributes no
// magnitude. Any rune outside the digit and unit tables is an error; the
// scanner recovers from it by rejecting the candidate line.
func ParseNumeral(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeral")
	}
	if isASCIIDigits(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("numeral %q: %w", s, err)
		}
		return n, nil
	}

	runes := []rune(strings.ReplaceAll(s, "零", ""))
	if len(runes) == 0 {
		return 0, nil
	}
	if len(runes) == 1 {
		if d, ok := numeralDigits[runes[0]]; ok {
			return d, nil
		}
		if u, ok := numeralUnits[runes[0]]; ok {
			return u, nil
		}
		return 0, fmt.Errorf("numeral %q: unknown rune %q", s, runes[0])
	}

	result, section := 0, 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if d, ok := numeralDigits[r]; ok {
			if i+1 < len(runes) {
				if unit, isUnit := numeralUnits[runes[i+1]]; isUnit {
					if unit >= sectionUnit {
						result += section + d*unit
						section = 0
					} else {
						section += d * unit
					}
					i++
					continue
				}
			}
			section += d
			continue
		}
		unit, ok := numeralUnits[r]
		if !ok {
			return 0, fmt.Errorf("numeral %q: unknown rune %q", s, r)
		}
		if section == 0 {
			section = 1
		}
		if unit >= sectionUnit {
			result += section * unit
			section = 0
		} else {
			section *= unit
		}
	}
	return result + section, nil
}

func isASCIIDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
