package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/auth"
	"storefront/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer("middleware-test-secret", time.Minute)
}

func whoami(c *gin.Context) {
	id, ok := CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"guest": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id.Hex(), "role": CurrentRole(c), "admin": IsAdmin(c)})
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	issuer := newIssuer()
	r := gin.New()
	r.GET("/me", RequireAuth(issuer), whoami)

	userID := primitive.NewObjectID()
	token, err := issuer.Issue(userID, "a@example.com", models.RoleCustomer)
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.Hex())

	w = serve(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"missing token"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/me", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := auth.NewTokenIssuer("another-secret-value", time.Minute)
	forged, err := other.Issue(userID, "a@example.com", models.RoleAdmin)
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/me", forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	issuer := newIssuer()
	r := gin.New()
	r.GET("/admin", RequireAuth(issuer), RequireRole(models.RoleAdmin), whoami)

	customer, err := issuer.Issue(primitive.NewObjectID(), "c@example.com", models.RoleCustomer)
	require.NoError(t, err)
	admin, err := issuer.Issue(primitive.NewObjectID(), "a@example.com", models.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", customer).Code)

	w := serve(r, http.MethodGet, "/admin", admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin":true`)
}

func TestOptionalAuth(t *testing.T) {
	issuer := newIssuer()
	r := gin.New()
	r.GET("/orders", OptionalAuth(issuer), whoami)

	w := serve(r, http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"guest":true}`, w.Body.String())

	token, err := issuer.Issue(primitive.NewObjectID(), "c@example.com", models.RoleCustomer)
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/orders", token)
	assert.Contains(t, w.Body.String(), `"role":"customer"`)

	w = serve(r, http.MethodGet, "/orders", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := serve(r, http.MethodGet, "/ping", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"msg":"request completed"`)
	assert.Contains(t, buf.String(), `"route":"/ping"`)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://shop.example.com/"}))
	r.GET("/products", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/products", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
