package inventory

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinic-api/internal/platform/auth"
	"github.com/clinicore/clinic-api/internal/platform/versioned"
	"github.com/clinicore/clinic-api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole("admin", "physician", "nurse", "pharmacist")

	read := api.Group("", staff)
	read.GET("/stock-items", h.List)
	read.GET("/stock-items/:id", h.Get)
	read.GET("/dispense-audit", h.Audit)
	read.GET("/dispense-audit/report", h.AuditReport)

	write := api.Group("", staff)
	write.POST("/stock-items", h.Create)
	write.POST("/stock-items/restock", h.Restock)
	write.POST("/stock-items/:id/dispense", h.Dispense)
	write.POST("/prescriptions/dispense", h.DispenseBatch)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.DELETE("/stock-items/:id", h.Delete)
}

type createRequest struct {
	Name            string    `json:"name"`
	Unit            string    `json:"unit"`
	ExpiryDate      time.Time `json:"expiry_date"`
	QuantityInStock int       `json:"quantity_in_stock"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item := &StockItem{
		Name:            req.Name,
		Unit:            req.Unit,
		ExpiryDate:      req.ExpiryDate,
		QuantityInStock: req.QuantityInStock,
	}
	if err := h.svc.Create(c.Request().Context(), item); err != nil {
		return httpError(err)
	}
	versioned.SetVersionHeaders(c, item.Version, item.UpdatedAt.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	versioned.SetVersionHeaders(c, item.Version, item.UpdatedAt.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type dispenseRequest struct {
	Quantity      int        `json:"quantity"`
	RecipientName string     `json:"recipient_name"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

func (h *Handler) Dispense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req dispenseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := actorFromContext(c)
	idemKey := c.Request().Header.Get("Idempotency-Key")
	item, err := h.svc.Dispense(c.Request().Context(), id, req.Quantity, actor, req.RecipientName, req.AppointmentID, idemKey)
	if err != nil {
		return httpError(err)
	}
	versioned.SetVersionHeaders(c, item.Version, item.UpdatedAt.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) DispenseBatch(c echo.Context) error {
	var req struct {
		Prescriptions PrescriptionRequest `json:"prescriptions"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := actorFromContext(c)
	if _, err := h.svc.DispenseBatch(c.Request().Context(), req.Prescriptions, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type restockRequest struct {
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int       `json:"quantity"`
}

func (h *Handler) Restock(c echo.Context) error {
	var req restockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.svc.Restock(c.Request().Context(), req.Name, req.Unit, req.ExpiryDate, req.Quantity)
	if err != nil {
		return httpError(err)
	}
	versioned.SetVersionHeaders(c, item.Version, item.UpdatedAt.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Audit(c echo.Context) error {
	f, err := auditFilterFromContext(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.Audit(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	if entries == nil {
		entries = []*AuditEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handler) AuditReport(c echo.Context) error {
	f, err := auditFilterFromContext(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.Audit(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.String(http.StatusOK, FormatReport(entries))
}

func auditFilterFromContext(c echo.Context) (AuditFilter, error) {
	var f AuditFilter
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		f.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		f.To = t
	}
	f.ItemName = c.QueryParam("item_name")
	return f, nil
}

func actorFromContext(c echo.Context) *string {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return nil
	}
	return &userID
}

// httpError maps domain errors onto HTTP status codes. Version conflicts
// that survived the retry budget surface as 409 so the client can re-read
// and resubmit.
func httpError(err error) error {
	var insufficient *InsufficientStockError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &insufficient):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"error":     insufficient.Error(),
			"item_id":   insufficient.ItemID,
			"item_name": insufficient.ItemName,
			"requested": insufficient.Requested,
			"in_stock":  insufficient.InStock,
		})
	case errors.Is(err, ErrInsufficientStock):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, versioned.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "the item was modified concurrently, please retry")
	case errors.Is(err, ErrDuplicateRequest):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
