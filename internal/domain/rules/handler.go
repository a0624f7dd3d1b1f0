package rules

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/neprocare/neprocare/internal/platform/auth"
	"github.com/neprocare/neprocare/pkg/pagination"
)

type Handler struct {
	svc *Service
	// publishToken guards the publish endpoint in addition to the role
	// check, mirroring the token the original publish trigger required.
	// Empty disables publishing over HTTP.
	publishToken string
}

func NewHandler(svc *Service, publishToken string) *Handler {
	return &Handler{svc: svc, publishToken: publishToken}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician"))
	readGroup.GET("/rules/:namespace", h.GetRuleSet)
	readGroup.GET("/rules/:namespace/versions", h.ListVersions)
	readGroup.POST("/rules/:namespace/reload", h.Reload)

	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.POST("/rules/:namespace/publish", h.Publish)
}

func (h *Handler) GetRuleSet(c echo.Context) error {
	rs, err := h.svc.Get(c.Request().Context(), c.Param("namespace"), false)
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rs)
}

func (h *Handler) Reload(c echo.Context) error {
	rs, err := h.svc.Get(c.Request().Context(), c.Param("namespace"), true)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, rs)
}

func (h *Handler) ListVersions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVersions(c.Request().Context(), c.Param("namespace"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Publish accepts a text/csv body of rule rows and publishes a new artifact
// version for the namespace. Compile errors return 422 with the offending
// rule id; nothing is persisted on failure.
func (h *Handler) Publish(c echo.Context) error {
	if h.publishToken == "" {
		return echo.NewHTTPError(http.StatusForbidden, "publishing is disabled")
	}
	token := c.QueryParam("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.publishToken)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid publish token")
	}

	rs, err := h.svc.PublishCSV(c.Request().Context(), c.Request().Body, c.Param("namespace"))
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, ce.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rs)
}
