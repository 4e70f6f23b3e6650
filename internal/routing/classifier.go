package routing

import (
	"errors"
	"net/http"
	"strings"
)

type RouteClass string

const (
	RouteClassUI          RouteClass = "ui"
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassOps         RouteClass = "ops"
)

// Requirement is the authz object/action declared for a route.
type Requirement struct {
	Object string
	Action string
}

type Classifier struct {
	entrypoint        string
	allowExact        map[string]RouteClass
	allowPathPatterns []pathPatternRoute
	requirements      map[string]Requirement
	patternReqs       []patternRequirement
}

type pathPatternRoute struct {
	pattern PathPattern
	rc      RouteClass
}

type patternRequirement struct {
	method  string
	pattern PathPattern
	req     Requirement
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	c := &Classifier{
		entrypoint:   entrypoint,
		allowExact:   make(map[string]RouteClass, len(ep.Routes)),
		requirements: make(map[string]Requirement),
	}
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, errors.New("allowlist: invalid route")
		}
		if (r.Object == "") != (r.Action == "") {
			return nil, errors.New("allowlist: object and action must be set together")
		}
		req := Requirement{Object: r.Object, Action: r.Action}
		p, isPattern := parsePathPattern(r.Path)
		if isPattern {
			c.allowPathPatterns = append(c.allowPathPatterns, pathPatternRoute{pattern: p, rc: RouteClass(r.RouteClass)})
		} else {
			c.allowExact[r.Path] = RouteClass(r.RouteClass)
		}
		if req.Object == "" {
			continue
		}
		for _, m := range r.Methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if isPattern {
				c.patternReqs = append(c.patternReqs, patternRequirement{method: m, pattern: p, req: req})
				continue
			}
			c.requirements[m+" "+r.Path] = req
		}
	}
	return c, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.allowExact[path]; ok {
		return rc
	}
	for _, p := range c.allowPathPatterns {
		if p.pattern.Match(path) {
			return p.rc
		}
	}

	switch {
	case isModuleInternalAPI(path):
		return RouteClassInternalAPI
	case path == "/health" || path == "/healthz" || path == "/metrics":
		return RouteClassOps
	default:
		return RouteClassUI
	}
}

// Requirement reports the authz requirement for method+path. HEAD falls back
// to GET.
func (c *Classifier) Requirement(method string, path string) (Requirement, bool) {
	method = strings.ToUpper(method)
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if req, ok := c.requirements[method+" "+path]; ok {
		return req, true
	}
	for _, pr := range c.patternReqs {
		if pr.method == method && pr.pattern.Match(path) {
			return pr.req, true
		}
	}
	return Requirement{}, false
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

func isModuleInternalAPI(path string) bool {
	// /{module}/api/*
	if !strings.HasPrefix(path, "/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/")
	module, after, ok := strings.Cut(rest, "/")
	if !ok || module == "" {
		return false
	}
	return hasPrefixSegment("/"+after, "/api")
}
