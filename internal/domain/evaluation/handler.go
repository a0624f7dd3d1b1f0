package evaluation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/neprocare/neprocare/internal/domain/rules"
	"github.com/neprocare/neprocare/internal/platform/auth"
)

type Handler struct {
	svc *Service
	// defaultNamespace is used when the request does not name one.
	defaultNamespace string
}

func NewHandler(svc *Service, defaultNamespace string) *Handler {
	return &Handler{svc: svc, defaultNamespace: defaultNamespace}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician"))
	g.POST("/diagnosis/generate", h.Generate)
}

// GenerateRequest is the evaluation request body.
type GenerateRequest struct {
	Namespace   string        `json:"namespace"`
	ForceReload bool          `json:"forceReload"`
	Record      PatientRecord `json:"record"`
}

// GenerateResponse pairs the evaluation result with the aggregated orders
// over primary and consider diagnoses.
type GenerateResponse struct {
	*Result
	Orders Orders `json:"orders"`
}

func (h *Handler) Generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Record == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record is required")
	}
	ns := req.Namespace
	if ns == "" {
		ns = h.defaultNamespace
	}

	res, err := h.svc.Generate(c.Request().Context(), ns, req.ForceReload, req.Record)
	if err != nil {
		if errors.Is(err, rules.ErrSourceUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	all := append(append([]DiagnosisMatch{}, res.Primary...), res.Consider...)
	return c.JSON(http.StatusOK, GenerateResponse{
		Result: res,
		Orders: CollectOrders(all),
	})
}
