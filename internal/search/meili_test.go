package search

import "testing"

func TestSearchRequestsCarryQueryText(t *testing.T) {
	requests := buildSearchRequests(Query{Text: "midnight", Limit: 5, Offset: 10})
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want one per index", len(requests))
	}
	for _, req := range requests {
		if req.Query != "midnight" {
			t.Fatalf("index %s query = %q, want the search text", req.IndexUID, req.Query)
		}
		if req.Limit != 5 || req.Offset != 10 {
			t.Fatalf("index %s limit/offset = %d/%d", req.IndexUID, req.Limit, req.Offset)
		}
	}
}

func TestSearchRequestsFilterByType(t *testing.T) {
	requests := buildSearchRequests(Query{Text: "plot", FilterType: ResultComment})
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want only the comment index", len(requests))
	}
	if requests[0].IndexUID != idxComments {
		t.Fatalf("index = %s, want %s", requests[0].IndexUID, idxComments)
	}
	if requests[0].Query != "plot" {
		t.Fatalf("query = %q", requests[0].Query)
	}
	if requests[0].Limit != 20 {
		t.Fatalf("default limit = %d, want 20", requests[0].Limit)
	}
}
