package routing

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type ErrorEnvelope struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	TraceID   string            `json:"trace_id"`
	Meta      ErrorEnvelopeMeta `json:"meta"`
	Retryable bool              `json:"retryable"`
}

type ErrorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func WriteError(w http.ResponseWriter, r *http.Request, rc RouteClass, status int, code string, message string) {
	writeEnvelope(w, r, rc, status, ErrorEnvelope{Code: code, Message: message})
}

// WriteAppError renders err using its httperr kind; anything else is a 500.
func WriteAppError(w http.ResponseWriter, r *http.Request, rc RouteClass, err error) {
	status := httperr.StatusFor(err)
	env := ErrorEnvelope{Code: "internal_error", Message: "internal error"}
	if appErr, ok := httperr.As(err); ok {
		env.Code = appErr.Code
		if env.Code == "" {
			env.Code = string(appErr.Kind)
		}
		env.Message = appErr.Message
		if env.Message == "" {
			env.Message = string(appErr.Kind)
		}
		env.Retryable = appErr.Retryable
	}
	writeEnvelope(w, r, rc, status, env)
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, rc RouteClass, status int, env ErrorEnvelope) {
	if isJSONOnly(rc) || wantsJSON(r) {
		env.TraceID = traceIDFromRequest(r)
		env.Meta = ErrorEnvelopeMeta{Path: r.URL.Path, Method: r.Method}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(env)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("<!doctype html><html><body>"))
	_, _ = w.Write([]byte(env.Message))
	_, _ = w.Write([]byte("</body></html>"))
}

func wantsJSON(r *http.Request) bool {
	return r.Header.Get("Accept") == "application/json" || r.Header.Get("Accept") == "application/json; charset=utf-8"
}

func isJSONOnly(rc RouteClass) bool {
	return rc == RouteClassInternalAPI || rc == RouteClassOps
}

func traceIDFromRequest(r *http.Request) string {
	traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
	if traceparent == "" {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || traceID == "00000000000000000000000000000000" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}
