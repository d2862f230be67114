package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"chieftain/pkg/api/middleware"
)

func newAuthRouter(key string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.APIKeyMiddleware(key))
	router.POST("/guarded", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func TestAPIKeyMiddleware_RejectsMissingKey(t *testing.T) {
	router := newAuthRouter("secret")

	req := httptest.NewRequest("POST", "/guarded", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAPIKeyMiddleware_RejectsWrongKey(t *testing.T) {
	router := newAuthRouter("secret")

	req := httptest.NewRequest("POST", "/guarded", nil)
	req.Header.Set(middleware.APIKeyHeaderKey, "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAPIKeyMiddleware_AcceptsCorrectKey(t *testing.T) {
	router := newAuthRouter("secret")

	req := httptest.NewRequest("POST", "/guarded", nil)
	req.Header.Set(middleware.APIKeyHeaderKey, "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestAPIKeyMiddleware_EmptyKeyDisablesCheck(t *testing.T) {
	router := newAuthRouter("")

	req := httptest.NewRequest("POST", "/guarded", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
