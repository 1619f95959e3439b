package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "vjudge/pkg/errors"
	"vjudge/pkg/testutil"
	"vjudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "s3cret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims tokenClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	testutil.AssertNoError(t, err)
	return raw
}

func accessClaims(subject, role string, expires time.Time) tokenClaims {
	return tokenClaims{
		Role:      role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "fuzoj",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func TestAuthenticate(t *testing.T) {
	auth := NewAdminAuth(testSecret, "fuzoj", []string{"admin", "root"})
	future := time.Now().Add(time.Hour)

	refresh := accessClaims("7", "admin", future)
	refresh.TokenType = "refresh"
	otherIssuer := accessClaims("7", "admin", future)
	otherIssuer.Issuer = "elsewhere"

	cases := []struct {
		name  string
		token string
		code  pkgerrors.ErrorCode
	}{
		{name: "empty", token: "", code: pkgerrors.TokenInvalid},
		{name: "garbage", token: "not.a.jwt", code: pkgerrors.TokenInvalid},
		{name: "expired", token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("7", "admin", time.Now().Add(-time.Minute))), code: pkgerrors.TokenExpired},
		{name: "wrong secret", token: signToken(t, jwt.SigningMethodHS256, []byte("other"), accessClaims("7", "admin", future)), code: pkgerrors.TokenInvalid},
		{name: "wrong algorithm", token: signToken(t, jwt.SigningMethodHS512, []byte(testSecret), accessClaims("7", "admin", future)), code: pkgerrors.TokenInvalid},
		{name: "refresh token", token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), refresh), code: pkgerrors.TokenInvalid},
		{name: "other issuer", token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), otherIssuer), code: pkgerrors.TokenInvalid},
		{name: "bad subject", token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("alice", "admin", future)), code: pkgerrors.TokenInvalid},
		{name: "plain user", token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("7", "user", future)), code: pkgerrors.InsufficientPermission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Authenticate(tc.token)
			testutil.AssertEqual(t, pkgerrors.GetCode(err), tc.code)
		})
	}

	admin, err := auth.Authenticate(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("7", "Admin", future)))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, admin, Admin{ID: 7, Role: "Admin"})
}

func TestAdminAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("42", "admin", time.Now().Add(time.Hour)))

	newRouter := func(auth *AdminAuth) *gin.Engine {
		router := gin.New()
		router.GET("/admin", AdminAuthMiddleware(auth), func(c *gin.Context) {
			id, _ := c.Request.Context().Value(contextkey.UserID).(int64)
			c.JSON(http.StatusOK, gin.H{"id": id})
		})
		return router
	}

	t.Run("accepts admin token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		newRouter(NewAdminAuth(testSecret, "fuzoj", []string{"admin"})).ServeHTTP(rec, req)
		testutil.AssertEqual(t, rec.Code, http.StatusOK)
		testutil.AssertEqual(t, rec.Body.String(), `{"id":42}`)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter(NewAdminAuth(testSecret, "", nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
		testutil.AssertEqual(t, rec.Code, http.StatusUnauthorized)
	})

	t.Run("rejects non bearer scheme", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Basic "+token)
		newRouter(NewAdminAuth(testSecret, "", nil)).ServeHTTP(rec, req)
		testutil.AssertEqual(t, rec.Code, http.StatusUnauthorized)
	})

	t.Run("unconfigured auth is unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		newRouter(NewAdminAuth("", "", nil)).ServeHTTP(rec, req)
		testutil.AssertEqual(t, rec.Code, http.StatusServiceUnavailable)
	})
}
