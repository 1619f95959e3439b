package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "vjudge/pkg/errors"
	"vjudge/pkg/utils/contextkey"
	"vjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Admin is the caller identity extracted from an access token.
type Admin struct {
	ID   int64
	Role string
}

// AdminAuth validates HS256 access tokens issued by the platform.
type AdminAuth struct {
	secret []byte
	issuer string
	roles  []string
}

// NewAdminAuth returns nil when secret is empty; the middleware then rejects every request.
func NewAdminAuth(secret, issuer string, roles []string) *AdminAuth {
	if secret == "" {
		return nil
	}
	return &AdminAuth{secret: []byte(secret), issuer: issuer, roles: roles}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate parses raw and checks issuer, token type and role.
func (a *AdminAuth) Authenticate(raw string) (Admin, error) {
	if raw == "" {
		return Admin{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Admin{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Admin{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Admin{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return Admin{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return Admin{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Admin{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if len(a.roles) > 0 && !hasRole(claims.Role, a.roles) {
		return Admin{}, pkgerrors.New(pkgerrors.InsufficientPermission)
	}
	return Admin{ID: id, Role: claims.Role}, nil
}

// AdminAuthMiddleware guards the vjudge management routes.
func AdminAuthMiddleware(auth *AdminAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "admin auth not configured")
			return
		}
		admin, err := auth.Authenticate(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(contextkey.UserID.String(), admin.ID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, admin.ID))
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
