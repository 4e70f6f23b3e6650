package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jacksonlee411/hr-batch-adjust/internal/config"
	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/authz"
)

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

// loadAuthorizer prefers configured policy files, then the repository's
// config/access files, then the built-in policy.
func loadAuthorizer(cfg config.Config) (*authz.Authorizer, error) {
	mode, err := cfg.AuthzModeValue()
	if err != nil {
		return nil, err
	}
	if cfg.AuthzModelPath != "" {
		return authz.NewAuthorizer(cfg.AuthzModelPath, cfg.AuthzPolicyPath, mode)
	}
	modelPath, modelErr := findUp("config/access/model.conf")
	policyPath, policyErr := findUp("config/access/policy.csv")
	if modelErr == nil && policyErr == nil {
		return authz.NewAuthorizer(modelPath, policyPath, mode)
	}
	return authz.NewAuthorizerFromRules(authz.DefaultModel, authz.DefaultPolicy(), mode)
}

// withAuthz enforces the object/action the allowlist declares for a route.
// Routes without a requirement pass through.
func withAuthz(classifier *routing.Classifier, a authorizer, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := classifier.Classify(path)

		req, shouldCheck := classifier.Requirement(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}

		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}
		subject := authz.SubjectFromRoleSlug(roleSlug)
		domain := authz.DomainFromTenantID(tenant.ID)

		allowed, enforced, err := a.Authorize(subject, domain, req.Object, req.Action)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed {
			if !enforced {
				logger.Warn("authz shadow deny",
					zap.String("subject", subject),
					zap.String("domain", domain),
					zap.String("object", req.Object),
					zap.String("action", req.Action),
				)
			} else {
				routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// findUp looks for a repository-relative path in the working directory and
// its parents, so tests and binaries started from subdirectories find config.
func findUp(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
	p := path
	for range 8 {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		p = filepath.Join("..", p)
	}
	return "", errors.New("server: " + path + " not found")
}
