package query

import (
	"testing"
)

func record(fields map[string]any) map[string]any { return fields }

func TestMatchesEquality(t *testing.T) {
	pred := ParseMap(map[string]string{"name": "Bob"})

	if !pred.Matches(record(map[string]any{"name": "Bob"})) {
		t.Errorf("Expected exact match")
	}
	if pred.Matches(record(map[string]any{"name": "bob"})) {
		t.Errorf("Expected equality to be case-sensitive")
	}
	if pred.Matches(record(map[string]any{"other": "Bob"})) {
		t.Errorf("Expected missing field to exclude the record")
	}

	// JSON numbers decode to float64; their string form must still
	// match a numeric query value
	pred = ParseMap(map[string]string{"id": "1"})
	if !pred.Matches(record(map[string]any{"id": float64(1)})) {
		t.Errorf("Expected numeric field to match its string form")
	}
}

func TestMatchesGTE(t *testing.T) {
	pred := ParseMap(map[string]string{"score[gte]": "40"})

	cases := []struct {
		value any
		want  bool
	}{
		{float64(50), true},
		{float64(40), true},
		{float64(30), false},
		{"45", true},   // numeric strings coerce
		{"low", false}, // non-numeric excludes (fail-closed)
		{nil, false},
	}
	for _, tc := range cases {
		got := pred.Matches(record(map[string]any{"score": tc.value}))
		if got != tc.want {
			t.Errorf("score=%v: expected %v, got %v", tc.value, tc.want, got)
		}
	}
}

func TestMatchesIn(t *testing.T) {
	pred := ParseMap(map[string]string{"status[in]": "active,pending"})

	if !pred.Matches(record(map[string]any{"status": "active"})) {
		t.Errorf("Expected 'active' to match")
	}
	if !pred.Matches(record(map[string]any{"status": "pending"})) {
		t.Errorf("Expected 'pending' to match")
	}
	if pred.Matches(record(map[string]any{"status": "banned"})) {
		t.Errorf("Expected 'banned' to be excluded")
	}

	// an empty set excludes everything
	empty := ParseMap(map[string]string{"status[in]": ""})
	if empty.Matches(record(map[string]any{"status": "active"})) {
		t.Errorf("Expected empty set to match nothing")
	}
}

func TestMatchesLike(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"Bo%", "Bob", true},
		{"Bo%", "bob", true}, // case-insensitive
		{"Bo%", "Alice", false},
		{"%ce", "Alice", true},
		{"%li%", "Alice", true},
		{"Alice", "Alice", true},
		{"Alice", "Alice Smith", false}, // anchored, full string
		{"a.c", "abc", false},           // regex metacharacters are literal
		{"a.c", "a.c", true},
		{"%", "anything", true},
	}
	for _, tc := range cases {
		pred := ParseMap(map[string]string{"name[like]": tc.pattern})
		got := pred.Matches(record(map[string]any{"name": tc.value}))
		if got != tc.want {
			t.Errorf("like %q against %q: expected %v, got %v", tc.pattern, tc.value, tc.want, got)
		}
	}
}

func TestMatchesBetween(t *testing.T) {
	pred := ParseMap(map[string]string{"created[between]": "2024-01-01,2024-12-31"})

	cases := []struct {
		value any
		want  bool
	}{
		{"2024-06-15", true},
		{"2024-01-01", true}, // start inclusive
		{"2024-12-31", true}, // end inclusive
		{"2023-12-31", false},
		{"2025-01-01", false},
		{"2024-06-15T10:30:00Z", true},
		{"not a date", false}, // fail-closed
	}
	for _, tc := range cases {
		got := pred.Matches(record(map[string]any{"created": tc.value}))
		if got != tc.want {
			t.Errorf("created=%v: expected %v, got %v", tc.value, tc.want, got)
		}
	}

	// numeric fields are unix milliseconds
	start, _ := ToMillis("2024-01-01")
	if !pred.Matches(record(map[string]any{"created": float64(start)})) {
		t.Errorf("Expected millisecond timestamp inside the range to match")
	}
}

func TestMatchesConjunction(t *testing.T) {
	pred := ParseMap(map[string]string{"status": "active", "score[gte]": "40"})

	if !pred.Matches(record(map[string]any{"status": "active", "score": float64(50)})) {
		t.Errorf("Expected record satisfying all clauses to match")
	}
	if pred.Matches(record(map[string]any{"status": "active", "score": float64(30)})) {
		t.Errorf("Expected record failing one clause to be excluded")
	}

	// an empty predicate matches everything
	if !ParseMap(nil).Matches(record(map[string]any{"anything": 1})) {
		t.Errorf("Expected empty predicate to match every record")
	}
}

func TestSortAndPage(t *testing.T) {
	items := []map[string]any{
		{"name": "b", "timestamp": float64(100)},
		{"name": "c", "timestamp": float64(300)},
		{"name": "a", "timestamp": float64(200)},
	}

	// default: timestamp descending
	pred := ParseMap(nil)
	paged, total, totalPages := pred.SortAndPage(items)
	if total != 3 || totalPages != 1 {
		t.Errorf("Expected total=3 pages=1, got %d/%d", total, totalPages)
	}
	if paged[0]["name"] != "c" || paged[2]["name"] != "b" {
		t.Errorf("Expected timestamp-descending order, got %v", paged)
	}

	// missing timestamp sorts as 0, i.e. last
	items = append(items, map[string]any{"name": "d"})
	paged, _, _ = pred.SortAndPage(items)
	if paged[3]["name"] != "d" {
		t.Errorf("Expected record without timestamp to sort last, got %v", paged)
	}

	// explicit sort, pagination
	pred = ParseMap(map[string]string{"sortBy": "name", "limit": "2", "page": "2"})
	paged, total, totalPages = pred.SortAndPage(items)
	if total != 4 || totalPages != 2 || len(paged) != 2 {
		t.Fatalf("Expected 4 items in 2 pages with 2 on page 2, got %d/%d/%d", total, totalPages, len(paged))
	}
	if paged[0]["name"] != "c" || paged[1]["name"] != "d" {
		t.Errorf("Expected page 2 to hold c,d, got %v", paged)
	}

	// out of range page
	pred = ParseMap(map[string]string{"limit": "2", "page": "9"})
	paged, total, totalPages = pred.SortAndPage(items)
	if len(paged) != 0 || total != 4 || totalPages != 2 {
		t.Errorf("Expected empty page with stable totals, got %v (%d/%d)", paged, total, totalPages)
	}
}

func TestToString(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{"s", "s"},
		{float64(1), "1"},
		{float64(1.5), "1.5"},
		{true, "true"},
		{nil, ""},
		{int64(42), "42"},
	}
	for _, tc := range cases {
		if got := ToString(tc.value); got != tc.want {
			t.Errorf("ToString(%v): expected %q, got %q", tc.value, tc.want, got)
		}
	}
}
