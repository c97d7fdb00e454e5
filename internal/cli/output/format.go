package output

import (
	"fmt"
	"strings"
)

// FormatHeader returns a markdown header line at the given level.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns an aligned "key: value" line.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("%-18s %s", key+":", value)
}
