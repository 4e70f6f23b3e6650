package routing

import "testing"

func testAllowlist() Allowlist {
	return Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{
				{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/person/api/persons", Methods: []string{"GET"}, RouteClass: "internal_api", Object: "person.persons", Action: "read"},
				{Path: "/person/api/persons", Methods: []string{"POST"}, RouteClass: "internal_api", Object: "person.persons", Action: "admin"},
				{Path: "/payroll/api/batches/{id}", Methods: []string{"GET"}, RouteClass: "internal_api", Object: "adjustment.payroll", Action: "read"},
				{Path: "/payroll/api/batches/{id}", Methods: []string{"DELETE"}, RouteClass: "internal_api", Object: "adjustment.payroll", Action: "admin"},
			}},
		},
	}
}

func TestClassifier_SegmentBoundary(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(testAllowlist(), "server")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("/org/api"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/org/apix"); got == RouteClassInternalAPI {
		t.Fatalf("unexpected internal api: %q", got)
	}
	if got := c.Classify("person/api"); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/metrics"); got != RouteClassOps {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/"); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewClassifier(testAllowlist(), "missing"); err == nil {
		t.Fatal("expected missing entrypoint error")
	}
	if _, err := NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: nil}}}, "server"); err == nil {
		t.Fatal("expected empty routes error")
	}
	if _, err := NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{{}}}}}, "server"); err == nil {
		t.Fatal("expected invalid route error")
	}
	half := Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{
		{Path: "/x/api/y", Methods: []string{"GET"}, RouteClass: "internal_api", Object: "x.y"},
	}}}}
	if _, err := NewClassifier(half, "server"); err == nil {
		t.Fatal("expected object/action pairing error")
	}
}

func TestClassifier_Requirement(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(testAllowlist(), "server")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		method string
		path   string
		want   Requirement
		ok     bool
	}{
		{"GET", "/person/api/persons", Requirement{Object: "person.persons", Action: "read"}, true},
		{"HEAD", "/person/api/persons", Requirement{Object: "person.persons", Action: "read"}, true},
		{"post", "/person/api/persons", Requirement{Object: "person.persons", Action: "admin"}, true},
		{"GET", "/payroll/api/batches/b1", Requirement{Object: "adjustment.payroll", Action: "read"}, true},
		{"DELETE", "/payroll/api/batches/b1", Requirement{Object: "adjustment.payroll", Action: "admin"}, true},
		{"GET", "/health", Requirement{}, false},
		{"PUT", "/person/api/persons", Requirement{}, false},
	}
	for _, tc := range cases {
		got, ok := c.Requirement(tc.method, tc.path)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s %s got=%+v ok=%v", tc.method, tc.path, got, ok)
		}
	}
}

func TestClassifier_PathPattern(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(testAllowlist(), "server")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Classify("/payroll/api/batches/abc"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
}
