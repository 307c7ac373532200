// Package textutil normalizes statistic labels so they compare cleanly
// across catalog vintages.
package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeLabel lowercases a label and collapses whitespace runs to a
// single space. Word boundaries survive so string-distance comparisons
// still see them.
func NormalizeLabel(label string) string {
	label = strings.ToLower(label)
	label = strings.Trim(label, " \n\t")
	label = whitespaceRegex.ReplaceAllString(label, " ")
	return label
}
