package services

import (
	"regexp"
	"sort"
	"strings"
)

// tagPattern matches "Word words:" at the start of a name and "#tag" anywhere.
var tagPattern = regexp.MustCompile(`(?i)(^[\w\s]+):|(#[\w-]+)`)

// ExtractTags splits a dashboard name into its inline tags and the name shown
// to users. "Sales: #q1 Weekly Report" yields ["Sales", "#q1"] and
// "Weekly Report".
func ExtractTags(name string) (tags []string, untagged string) {
	matches := tagPattern.FindAllString(name, -1)
	tags = make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.TrimSuffix(m, ":"))
	}
	untagged = strings.TrimSpace(tagPattern.ReplaceAllString(name, ""))
	return tags, untagged
}

// UniqueSortedTags returns every tag of names once, sorted.
func UniqueSortedTags(names []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, name := range names {
		tags, _ := ExtractTags(name)
		for _, tag := range tags {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// ToggleTag updates a tag selection for a click on tag. A shift-click adds or
// removes tag; a plain click selects only tag, or clears the selection when
// tag was already selected.
func ToggleTag(selected []string, tag string, shift bool) []string {
	isSelected := false
	for _, t := range selected {
		if t == tag {
			isSelected = true
			break
		}
	}

	switch {
	case isSelected && shift:
		out := make([]string, 0, len(selected))
		for _, t := range selected {
			if t != tag {
				out = append(out, t)
			}
		}
		return out
	case isSelected:
		return []string{}
	case shift:
		return append(append(make([]string, 0, len(selected)+1), selected...), tag)
	default:
		return []string{tag}
	}
}
