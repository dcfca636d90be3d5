package query

import (
	"net/url"
	"testing"
)

func TestParsePagination(t *testing.T) {
	cases := []struct {
		name      string
		params    map[string]string
		wantPage  int
		wantLimit int
	}{
		{"defaults", nil, 1, 100},
		{"explicit", map[string]string{"page": "3", "limit": "20"}, 3, 20},
		{"page clamped up", map[string]string{"page": "0"}, 1, 100},
		{"negative page", map[string]string{"page": "-5"}, 1, 100},
		{"limit clamped low", map[string]string{"limit": "0"}, 1, 1},
		{"limit clamped high", map[string]string{"limit": "5000"}, 1, 1000},
		{"garbage ignored", map[string]string{"page": "x", "limit": "y"}, 1, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred := ParseMap(tc.params)
			if pred.Page != tc.wantPage || pred.Limit != tc.wantLimit {
				t.Errorf("Expected page=%d limit=%d, got page=%d limit=%d",
					tc.wantPage, tc.wantLimit, pred.Page, pred.Limit)
			}
			if len(pred.Clauses) != 0 {
				t.Errorf("Expected directives not to become clauses, got %v", pred.Clauses)
			}
		})
	}
}

func TestParseSortDirectives(t *testing.T) {
	pred := ParseMap(map[string]string{"sortBy": "name", "sortDescending": "true"})
	if pred.SortBy != "name" || !pred.SortDescending {
		t.Errorf("Expected sortBy=name descending, got %+v", pred)
	}

	pred = ParseMap(map[string]string{"sortBy": "name", "sortDescending": "nope"})
	if pred.SortDescending {
		t.Errorf("Expected unparsable sortDescending to default to false")
	}
}

func TestParseClauses(t *testing.T) {
	pred := ParseMap(map[string]string{
		"name":            "Bob",
		"score[gte]":      "40.5",
		"status[in]":      "active, pending",
		"created[between]": "2024-01-01,2024-12-31",
		"title[like]":     "Bo%",
	})

	if len(pred.Clauses) != 5 {
		t.Fatalf("Expected 5 clauses, got %d: %v", len(pred.Clauses), pred.Clauses)
	}

	kinds := map[string]ClauseKind{}
	for _, clause := range pred.Clauses {
		kinds[clause.Field] = clause.Kind
	}
	want := map[string]ClauseKind{
		"name":    ClauseEquals,
		"score":   ClauseGTE,
		"status":  ClauseIn,
		"created": ClauseBetween,
		"title":   ClauseLike,
	}
	for field, kind := range want {
		if kinds[field] != kind {
			t.Errorf("Field %s: expected kind %s, got %s", field, kind, kinds[field])
		}
	}
}

func TestParseFailOpen(t *testing.T) {
	// unparsable clause values are dropped, not errors
	cases := []map[string]string{
		{"score[gte]": "abc"},
		{"created[between]": "2024-01-01"},
		{"created[between]": "nonsense,alsononsense"},
	}
	for _, params := range cases {
		pred := ParseMap(params)
		if len(pred.Clauses) != 0 {
			t.Errorf("Expected clause %v to be dropped, got %v", params, pred.Clauses)
		}
	}

	// an absent [in] value yields an empty set, which is retained
	pred := ParseMap(map[string]string{"status[in]": ""})
	if len(pred.Clauses) != 1 || len(pred.Clauses[0].Set) != 0 {
		t.Errorf("Expected retained empty set clause, got %v", pred.Clauses)
	}
}

func TestParseKeepsRawParams(t *testing.T) {
	params := map[string]string{"score[gte]": "40", "page": "2"}
	pred := ParseMap(params)
	if pred.Params["score[gte]"] != "40" || pred.Params["page"] != "2" {
		t.Errorf("Expected raw params to be preserved for forwarding, got %v", pred.Params)
	}

	// re-parsing the raw params yields an equivalent predicate
	again := ParseMap(pred.Params)
	if again.Page != pred.Page || len(again.Clauses) != len(pred.Clauses) {
		t.Errorf("Expected re-parsed predicate to be equivalent")
	}
}

func TestParseURLValues(t *testing.T) {
	values, err := url.ParseQuery("name=Bob&score[gte]=40&page=2")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	pred := Parse(values)
	if pred.Page != 2 || len(pred.Clauses) != 2 {
		t.Errorf("Expected page=2 and 2 clauses, got %+v", pred)
	}
}
