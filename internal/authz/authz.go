// Package authz is the authorization boundary the facade enforces on
// admin-only routes: JWT claims are parsed from an upstream-issued token
// (session issuance itself is out of scope, per the teacher's
// internal/auth package reduced to claims parsing only) and a Casbin RBAC
// enforcer decides whether the claimed role may perform the request.
package authz

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/casbin/casbin/v2/util"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims is the subset of an upstream-issued token this engine trusts:
// who the caller is and what role they hold.
type Claims struct {
	StudentID string `json:"studentId"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

const contextKey = "registrar:claims"

// ClaimsFromContext extracts the parsed Claims a prior JWT middleware
// pass attached to the request, if any.
func ClaimsFromContext(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(contextKey).(*Claims)
	return claims, ok
}

// JWTMiddleware parses the Authorization: Bearer header with signingKey
// and attaches the resulting Claims to the request context. It does not
// issue tokens; issuance is the identity provider's responsibility.
func JWTMiddleware(signingKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(contextKey, claims)
			return next(c)
		}
	}
}

// rbacModel is the RBAC shape: role-based subjects, path matching via
// keyMatch, method as action, and an explicit effect column per policy.
const rbacModel = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act`

// NewEnforcer builds a Casbin enforcer from the policy CSV at policyPath.
func NewEnforcer(policyPath string) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parsing rbac model: %w", err)
	}
	adapter := fileadapter.NewAdapter(policyPath)
	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("authz: building enforcer: %w", err)
	}
	enforcer.AddFunction("keyMatch", util.KeyMatchFunc)
	return enforcer, nil
}

// RequireRole builds middleware that only admits callers whose role
// Casbin's policy grants access to the request's path and method.
func RequireRole(enforcer *casbin.Enforcer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "missing claims")
			}
			allowed, err := enforcer.Enforce(claims.Role, c.Request().URL.Path, c.Request().Method)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "authorization check failed")
			}
			if !allowed {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		}
	}
}
