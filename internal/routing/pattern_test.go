package routing

import "testing"

func TestParsePathPattern(t *testing.T) {
	t.Parallel()

	invalid := []string{
		"no-leading-slash",
		"{no-leading-slash-but-has-brace}",
		"/a/{id",
		"/a/{}/b",
		"/a/{id}x/b",
		"/a/id}/b",
		"/a//{id}/b",
	}
	if _, ok := parsePathPattern("/health"); ok {
		t.Fatal("expected non-pattern")
	}
	for _, raw := range invalid {
		if _, ok := parsePathPattern(raw); ok {
			t.Fatalf("expected invalid: %q", raw)
		}
	}

	p, ok := parsePathPattern("/a/{id}/b")
	if !ok {
		t.Fatal("expected ok")
	}
	if (PathPattern{}).Match("/a/x/b") {
		t.Fatal("expected zero-value to not match")
	}
	if !p.Match("/a/x/b") {
		t.Fatal("expected match")
	}
	for _, path := range []string{"/a/x/c", "/a/x", "/a//b"} {
		if p.Match(path) {
			t.Fatalf("expected no match: %q", path)
		}
	}
}

func TestPathPattern_Params(t *testing.T) {
	t.Parallel()

	p, ok := parsePathPattern("/person/api/persons/{id}/aspects/{aspect}")
	if !ok {
		t.Fatal("expected ok")
	}
	params, ok := p.Params("/person/api/persons/p-1/aspects/payroll")
	if !ok {
		t.Fatal("expected match")
	}
	if params["id"] != "p-1" || params["aspect"] != "payroll" {
		t.Fatalf("params=%v", params)
	}
}

func TestSplitPathSegments(t *testing.T) {
	t.Parallel()

	if got := splitPathSegments("/"); got != nil {
		t.Fatalf("got=%v", got)
	}
	got := splitPathSegments("/a/b")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got=%v", got)
	}
}
