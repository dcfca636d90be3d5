package query

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Matching
// --------------------------------------------------------------------------

// Matches evaluates the predicate as a logical AND over all retained
// clauses. An empty clause set matches every record. A missing field or
// a field value that cannot be coerced to the clause's type excludes
// the record (fail-closed).
func (p Predicate) Matches(fields map[string]any) bool {
	for _, clause := range p.Clauses {
		value, ok := fields[clause.Field]
		if !ok {
			return false
		}
		if !clause.matches(value) {
			return false
		}
	}
	return true
}

func (c Clause) matches(value any) bool {
	switch c.Kind {
	case ClauseEquals:
		return ToString(value) == c.Str
	case ClauseGTE:
		num, ok := ToFloat(value)
		return ok && num >= c.Num
	case ClauseIn:
		_, ok := c.Set[ToString(value)]
		return ok
	case ClauseBetween:
		millis, ok := toMillisValue(value)
		return ok && millis >= c.Start && millis <= c.End
	case ClauseLike:
		return c.Pattern.MatchString(ToString(value))
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Sorting and Pagination
// --------------------------------------------------------------------------

// SortAndPage sorts the matched records in place and cuts out the
// requested page. If SortBy is set, records are ordered by the string
// form of that field; otherwise by the timestamp field, descending,
// with a missing timestamp treated as 0. The returned totals refer to
// the full match set, totalPages = ceil(total/limit).
func (p Predicate) SortAndPage(items []map[string]any) (paged []map[string]any, total, totalPages int) {
	total = len(items)
	totalPages = int(math.Ceil(float64(total) / float64(p.Limit)))

	if p.SortBy != "" {
		sort.SliceStable(items, func(i, j int) bool {
			a, b := ToString(items[i][p.SortBy]), ToString(items[j][p.SortBy])
			if p.SortDescending {
				return a > b
			}
			return a < b
		})
	} else {
		// default order: newest first
		sort.SliceStable(items, func(i, j int) bool {
			return timestampOf(items[i]) > timestampOf(items[j])
		})
	}

	skip := (p.Page - 1) * p.Limit
	if skip >= total {
		return []map[string]any{}, total, totalPages
	}
	end := min(skip+p.Limit, total)
	return items[skip:end], total, totalPages
}

func timestampOf(fields map[string]any) int64 {
	if f, ok := ToFloat(fields["timestamp"]); ok {
		return int64(f)
	}
	return 0
}

// --------------------------------------------------------------------------
// Value Coercion
// --------------------------------------------------------------------------

// ToString returns the string representation used for equality,
// membership and pattern clauses. Integral floats (the usual shape of
// JSON numbers after decoding) render without a decimal point, so a
// record value 1 matches the query value "1".
func ToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return ToString(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// ToFloat coerces a record value to a float64. Numeric strings coerce
// as well; anything else reports false.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Datetime layouts accepted for [between] bounds and string-typed
// record fields, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToMillis parses a datetime string (or a bare unix-millisecond
// integer) into unix milliseconds.
func ToMillis(s string) (int64, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	if millis, err := strconv.ParseInt(s, 10, 64); err == nil {
		return millis, true
	}
	return 0, false
}

// toMillisValue coerces a record value to unix milliseconds for date
// range clauses. Numbers are taken as milliseconds, strings are parsed
// as datetimes or millisecond integers.
func toMillisValue(value any) (int64, bool) {
	switch v := value.(type) {
	case string:
		return ToMillis(v)
	case time.Time:
		return v.UnixMilli(), true
	default:
		if f, ok := ToFloat(value); ok {
			return int64(f), true
		}
		return 0, false
	}
}
