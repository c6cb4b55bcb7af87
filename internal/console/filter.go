package console

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter types accepted by NewOutputFilter.
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

var errorKeywords = []string{
	"error",
	"exception",
	"fatal",
	"warning",
	"warn",
	"failed",
	"failure",
	"critical",
	"panic",
	"stack trace",
	"traceback",
}

// OutputFilter selects console lines for display
type OutputFilter struct {
	FilterType    string
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// FilterResult represents the result of filtering a line
type FilterResult struct {
	Include   bool
	Highlight []int // start/end of the first match
}

// NewOutputFilter creates a new output filter. An empty type means "none".
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}

	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case FilterNone, FilterErrors, FilterSearch:
	case FilterRegex:
		if pattern != "" {
			flags := ""
			if !caseSensitive {
				flags = "(?i)"
			}
			compiled, err := regexp.Compile(flags + pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			filter.regex = compiled
		}
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	return filter, nil
}

// Filter applies the filter to a line of output
func (f *OutputFilter) Filter(line string) FilterResult {
	result := FilterResult{
		Include:   true,
		Highlight: []int{},
	}

	switch f.FilterType {
	case FilterErrors:
		lower := strings.ToLower(line)
		result.Include = false
		for _, keyword := range errorKeywords {
			if idx := strings.Index(lower, keyword); idx >= 0 {
				result.Include = true
				result.Highlight = []int{idx, idx + len(keyword)}
				break
			}
		}

	case FilterSearch:
		if f.Pattern == "" {
			return result
		}

		searchLine := line
		searchPattern := f.Pattern
		if !f.CaseSensitive {
			searchLine = strings.ToLower(line)
			searchPattern = strings.ToLower(f.Pattern)
		}

		if idx := strings.Index(searchLine, searchPattern); idx >= 0 {
			result.Highlight = []int{idx, idx + len(f.Pattern)}
		} else {
			result.Include = false
		}

	case FilterRegex:
		if f.regex == nil {
			return result
		}
		if match := f.regex.FindStringIndex(line); match != nil {
			result.Highlight = match
		} else {
			result.Include = false
		}
	}

	return result
}

// FilterLines keeps the lines the filter includes, preserving order
func (f *OutputFilter) FilterLines(lines []Line) []Line {
	if f.FilterType == FilterNone {
		return lines
	}

	filtered := []Line{}
	for _, line := range lines {
		if f.Filter(line.Text).Include {
			filtered = append(filtered, line)
		}
	}
	return filtered
}
