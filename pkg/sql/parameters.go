// Package sql parses {{name}} parameter placeholders in saved queries and
// screens user-supplied parameter values.
package sql

import (
	"regexp"
)

// placeholderRegex matches {{name}} placeholders, with optional whitespace
// inside the braces. Date range parameters are referenced through their
// bounds, {{name.start}} and {{name.end}}, and count as the one parameter name.
var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z_]\w*)(?:\.(?:start|end))?\s*\}\}`)

// ExtractParameters returns the parameter names used by a query, once each,
// in order of first appearance.
//
//	ExtractParameters("SELECT * FROM orders WHERE day BETWEEN '{{period.start}}' AND '{{period.end}}' AND region = '{{region}}'")
//	// []string{"period", "region"}
func ExtractParameters(sqlQuery string) []string {
	var names []string
	seen := make(map[string]bool)

	for _, match := range placeholderRegex.FindAllStringSubmatch(sqlQuery, -1) {
		if name := match[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}
