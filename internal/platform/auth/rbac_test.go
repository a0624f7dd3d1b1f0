package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func rbacEcho(mw echo.MiddlewareFunc, roles ...string) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	e.Use(mw)
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func hit(e *echo.Echo) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		held     []string
		want     int
	}{
		{"exact match", []string{"physician"}, []string{"physician"}, http.StatusOK},
		{"one of several", []string{"admin", "physician"}, []string{"physician"}, http.StatusOK},
		{"admin always passes", []string{"physician"}, []string{"admin"}, http.StatusOK},
		{"wrong role", []string{"physician"}, []string{"nurse"}, http.StatusForbidden},
		{"no roles", []string{"physician"}, nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := rbacEcho(RequireRole(tt.required...), tt.held...)
			if got := hit(e); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
