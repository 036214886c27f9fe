package quality

import (
	"fmt"
	"sort"
	"strings"
)

// placeholderValues are tokens that look like data but carry none. A key
// field holding one of these fails the record.
var placeholderValues = map[string]struct{}{
	"":                  {},
	"n/a":               {},
	"na":                {},
	"null":              {},
	"none":              {},
	"nil":               {},
	"tbd":               {},
	"to be determined":  {},
	"-":                 {},
	"—":                 {},
	"undefined":         {},
	"unknown":           {},
	"待补充":               {},
	"暂无":                {},
}

// defaultKeyFields are always treated as goal-relevant when present.
var defaultKeyFields = []string{"title", "name", "url", "link", "href"}

// goalStopwords are dropped when deriving goal-relevant field names.
var goalStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"for": {}, "from": {}, "with": {}, "all": {}, "each": {}, "extract": {},
	"get": {}, "fetch": {}, "crawl": {}, "scrape": {}, "collect": {},
	"data": {}, "page": {}, "pages": {}, "site": {}, "website": {},
}

// Fallback is the deterministic evaluator used when the oracle is
// unavailable. It is pure: identical (records, goal) input always yields an
// identical Report.
//
// A record passes when it is non-empty, every goal-relevant key field
// present on it is non-empty, and no key-field value is a known placeholder.
// The composite is the fraction of passing records, rounded to two decimals,
// applied to all four dimensions.
func Fallback(records []map[string]any, goal string, threshold float64) Report {
	rep := Report{Threshold: threshold, Fallback: true}
	if len(records) == 0 {
		rep.Issues = []string{"no records extracted"}
		return rep
	}

	keyFields := goalKeyFields(goal)
	passing := 0
	for i, rec := range records {
		if issue := checkRecord(rec, keyFields); issue != "" {
			rep.Issues = append(rep.Issues, fmt.Sprintf("record %d: %s", i, issue))
			continue
		}
		passing++
	}

	score := round2(float64(passing) / float64(len(records)))
	rep.Relevance = score
	rep.Completeness = score
	rep.Accuracy = score
	rep.ContentQuality = score
	rep.Composite = score
	rep.Passed = score >= threshold
	return rep
}

// checkRecord returns an empty string when the record passes, otherwise a
// short issue description.
func checkRecord(rec map[string]any, keyFields []string) string {
	if len(rec) == 0 {
		return "empty record"
	}

	allEmpty := true
	for _, v := range rec {
		if !isPlaceholder(v) {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return "all fields empty"
	}

	for _, field := range keyFields {
		v, ok := rec[field]
		if !ok {
			continue
		}
		if isPlaceholder(v) {
			return fmt.Sprintf("empty key field %q", field)
		}
	}
	return ""
}

func isPlaceholder(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		// Non-string values (numbers, nested objects) count as data.
		return false
	}
	_, bad := placeholderValues[strings.ToLower(strings.TrimSpace(s))]
	return bad
}

// goalKeyFields derives the field names the goal cares about, merged with
// the default key fields. The result is sorted so evaluation order is
// deterministic.
func goalKeyFields(goal string) []string {
	set := make(map[string]struct{}, len(defaultKeyFields))
	for _, f := range defaultKeyFields {
		set[f] = struct{}{}
	}
	for _, word := range strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	}) {
		if len(word) < 3 {
			continue
		}
		if _, stop := goalStopwords[word]; stop {
			continue
		}
		set[word] = struct{}{}
	}

	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
