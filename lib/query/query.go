// Package query implements the predicate engine: it parses a flat
// key/value query into typed filter clauses and evaluates them against
// schema-less JSON records.
//
// Parsing is fail-open: a clause whose value cannot be parsed is
// silently dropped and the field is left unfiltered. Matching is
// fail-closed: a record whose field is missing or cannot be coerced to
// the clause's type never passes the filter.
package query

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"bucketdb/lib/logging"
)

var log = logging.GetLogger("query")

// Reserved keys are pagination/sort directives, never filter clauses.
const (
	keyPage     = "page"
	keyLimit    = "limit"
	keySortBy   = "sortBy"
	keySortDesc = "sortDescending"
)

// Pagination defaults and clamps.
const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
)

// --------------------------------------------------------------------------
// Clause Types
// --------------------------------------------------------------------------

// ClauseKind identifies the type of a single filter clause.
type ClauseKind uint8

const (
	ClauseEquals  ClauseKind = iota // exact string equality
	ClauseGTE                       // numeric greater-or-equal
	ClauseIn                        // set membership
	ClauseBetween                   // inclusive date range
	ClauseLike                      // wildcard pattern, % matches any substring
)

// String returns the query-string suffix of the clause kind.
func (k ClauseKind) String() string {
	switch k {
	case ClauseEquals:
		return "equals"
	case ClauseGTE:
		return "gte"
	case ClauseIn:
		return "in"
	case ClauseBetween:
		return "between"
	case ClauseLike:
		return "like"
	default:
		return "unknown"
	}
}

// Clause is one typed filter condition bound to a field name. Only the
// value fields relevant for its kind are populated.
type Clause struct {
	Field string
	Kind  ClauseKind

	Str     string              // ClauseEquals
	Num     float64             // ClauseGTE
	Set     map[string]struct{} // ClauseIn
	Start   int64               // ClauseBetween, unix milliseconds
	End     int64               // ClauseBetween, unix milliseconds
	Pattern *regexp.Regexp      // ClauseLike, compiled anchored pattern
}

// Predicate is the conjunction of all retained clauses plus the
// pagination/sort directives extracted from the same query. Params
// keeps the raw input so a predicate can be forwarded over the wire
// and re-parsed on the other side.
type Predicate struct {
	Clauses []Clause

	Page           int
	Limit          int
	SortBy         string
	SortDescending bool

	Params map[string]string `json:"params"`
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// Parse builds a predicate from URL query values. Repeated keys keep
// their first value.
func Parse(values url.Values) Predicate {
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}
	return ParseMap(params)
}

// ParseMap builds a predicate from a flat string map. Unparsable clause
// values are dropped (fail-open), pagination directives are clamped to
// their valid ranges.
func ParseMap(params map[string]string) Predicate {
	pred := Predicate{
		Page:   DefaultPage,
		Limit:  DefaultLimit,
		Params: params,
	}

	for key, value := range params {
		switch key {
		case keyPage:
			if n, err := strconv.Atoi(value); err == nil && n > 1 {
				pred.Page = n
			}
		case keyLimit:
			if n, err := strconv.Atoi(value); err == nil {
				pred.Limit = min(max(n, 1), MaxLimit)
			}
		case keySortBy:
			pred.SortBy = value
		case keySortDesc:
			pred.SortDescending = value == "true" || value == "1"
		default:
			if clause, ok := parseClause(key, value); ok {
				pred.Clauses = append(pred.Clauses, clause)
			}
		}
	}

	return pred
}

// parseClause classifies a single key by suffix and parses its value.
// The boolean is false if the clause value could not be parsed.
func parseClause(key, value string) (Clause, bool) {
	field, op, ok := splitSuffix(key)
	if !ok {
		// no operator suffix: exact equality, never fails
		return Clause{Field: key, Kind: ClauseEquals, Str: value}, true
	}

	switch op {
	case "gte":
		num, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			log.Debug("dropping unparsable gte clause", "field", field, "value", value)
			return Clause{}, false
		}
		return Clause{Field: field, Kind: ClauseGTE, Num: num}, true

	case "in":
		set := make(map[string]struct{})
		if value != "" {
			for _, item := range strings.Split(value, ",") {
				set[strings.TrimSpace(item)] = struct{}{}
			}
		}
		return Clause{Field: field, Kind: ClauseIn, Set: set}, true

	case "between":
		parts := strings.SplitN(value, ",", 2)
		if len(parts) != 2 {
			log.Debug("dropping malformed between clause", "field", field, "value", value)
			return Clause{}, false
		}
		start, okStart := ToMillis(strings.TrimSpace(parts[0]))
		end, okEnd := ToMillis(strings.TrimSpace(parts[1]))
		if !okStart || !okEnd {
			log.Debug("dropping unparsable between clause", "field", field, "value", value)
			return Clause{}, false
		}
		return Clause{Field: field, Kind: ClauseBetween, Start: start, End: end}, true

	case "like":
		return Clause{Field: field, Kind: ClauseLike, Pattern: compilePattern(value)}, true

	default:
		// unknown operator: treat the whole key as an equality field
		return Clause{Field: key, Kind: ClauseEquals, Str: value}, true
	}
}

// splitSuffix splits "field[op]" into field and op.
func splitSuffix(key string) (field, op string, ok bool) {
	if !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	open := strings.LastIndex(key, "[")
	if open <= 0 {
		return "", "", false
	}
	return key[:open], key[open+1 : len(key)-1], true
}

// compilePattern translates a %-wildcard pattern into an anchored,
// case-insensitive regular expression. All non-wildcard characters are
// quoted, so compilation cannot fail and malformed input is kept
// verbatim as a literal.
func compilePattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "%")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("(?i)^" + strings.Join(parts, ".*") + "$")
}
