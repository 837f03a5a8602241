package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/core/service"
)

type HTTPHandler struct {
	inventory *service.InventoryService
	invoices  *service.InvoiceService
	billing   *service.BillingService
	logger    *zap.Logger
}

type CreateProviderRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
	TaxID   string `json:"tax_id" binding:"required"`
}

type CreateBarrelRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
	Number     string `json:"number" binding:"required"`
	OilType    string `json:"oil_type" binding:"required"`
	Liters     int    `json:"liters"`
}

type CreateInvoiceRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
	InvoiceNo  string `json:"invoice_no" binding:"required"`
	IssuedOn   string `json:"issued_on" binding:"required"`
}

// BillBarrelHTTPRequest leaves liters and price checks to the billing
// engine so rejections keep their order and codes.
type BillBarrelHTTPRequest struct {
	RequestID   string          `json:"request_id"`
	BarrelID    string          `json:"barrel_id" binding:"required"`
	Liters      int             `json:"liters"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Description string          `json:"description"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func NewHTTPHandler(inventory *service.InventoryService, invoices *service.InvoiceService, billing *service.BillingService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		inventory: inventory,
		invoices:  invoices,
		billing:   billing,
		logger:    logger.Named("http"),
	}
}

func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.POST("/providers", h.CreateProvider)
	api.GET("/providers", h.ListProviders)
	api.GET("/providers/:id", h.GetProvider)
	api.DELETE("/providers/:id", h.DeleteProvider)

	api.POST("/barrels", h.CreateBarrel)
	api.GET("/barrels", h.ListBarrels)
	api.GET("/barrels/:id", h.GetBarrel)
	api.DELETE("/barrels/:id", h.DeleteBarrel)

	api.POST("/invoices", h.CreateInvoice)
	api.GET("/invoices", h.ListInvoices)
	api.GET("/invoices/:id", h.GetInvoice)
	api.POST("/invoices/:id/lines", h.BillBarrel)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) CreateProvider(c *gin.Context) {
	var req CreateProviderRequest
	if !h.bind(c, &req) {
		return
	}

	p, err := h.inventory.RegisterProvider(c.Request.Context(), req.Name, req.Address, req.TaxID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DataResponse{Success: true, Data: toProviderResponse(*p, false)})
}

func (h *HTTPHandler) ListProviders(c *gin.Context) {
	var filter domain.ProviderFilter
	if raw, ok := c.GetQuery("has_barrels_to_bill"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.badQuery(c, "has_barrels_to_bill", "must be true or false")
			return
		}
		filter.HasBarrelsToBill = &v
	}

	providers, err := h.inventory.ListProviders(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := lo.Map(providers, func(p domain.ProviderListing, _ int) ProviderResponse {
		return toProviderResponse(p.Provider, p.HasBarrelsToBill)
	})
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: resp})
}

func (h *HTTPHandler) GetProvider(c *gin.Context) {
	summary, err := h.inventory.ProviderSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: toProviderDetailResponse(summary)})
}

func (h *HTTPHandler) DeleteProvider(c *gin.Context) {
	if err := h.inventory.DeleteProvider(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) CreateBarrel(c *gin.Context) {
	var req CreateBarrelRequest
	if !h.bind(c, &req) {
		return
	}

	b, err := h.inventory.ReceiveBarrel(c.Request.Context(), service.ReceiveBarrelRequest{
		ProviderID: req.ProviderID,
		Number:     req.Number,
		OilType:    domain.OilType(req.OilType),
		Liters:     req.Liters,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DataResponse{Success: true, Data: toBarrelResponse(*b)})
}

func (h *HTTPHandler) ListBarrels(c *gin.Context) {
	filter := domain.BarrelFilter{ProviderID: c.Query("provider")}
	if raw, ok := c.GetQuery("billed"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.badQuery(c, "billed", "must be true or false")
			return
		}
		filter.Billed = &v
	}

	barrels, err := h.inventory.ListBarrels(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{
		Success: true,
		Data:    lo.Map(barrels, func(b domain.Barrel, _ int) BarrelResponse { return toBarrelResponse(b) }),
	})
}

func (h *HTTPHandler) GetBarrel(c *gin.Context) {
	b, err := h.inventory.GetBarrel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: toBarrelResponse(*b)})
}

func (h *HTTPHandler) DeleteBarrel(c *gin.Context) {
	if err := h.inventory.DeleteBarrel(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if !h.bind(c, &req) {
		return
	}
	issuedOn, err := time.Parse(dateLayout, req.IssuedOn)
	if err != nil {
		h.badQuery(c, "issued_on", "must be a date in YYYY-MM-DD format")
		return
	}

	inv, err := h.invoices.IssueInvoice(c.Request.Context(), req.ProviderID, req.InvoiceNo, issuedOn)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DataResponse{Success: true, Data: toInvoiceResponse(*inv)})
}

func (h *HTTPHandler) ListInvoices(c *gin.Context) {
	filter := domain.InvoiceFilter{
		InvoiceNo:  c.Query("invoice_no"),
		ProviderID: c.Query("provider"),
	}
	for key, dst := range map[string]**time.Time{
		"issued_on_after":  &filter.IssuedAfter,
		"issued_on_before": &filter.IssuedBefore,
	} {
		raw, ok := c.GetQuery(key)
		if !ok {
			continue
		}
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			h.badQuery(c, key, "must be a date in YYYY-MM-DD format")
			return
		}
		*dst = &d
	}

	invoices, err := h.invoices.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{
		Success: true,
		Data:    lo.Map(invoices, func(inv domain.Invoice, _ int) InvoiceResponse { return toInvoiceResponse(inv) }),
	})
}

func (h *HTTPHandler) GetInvoice(c *gin.Context) {
	detail, err := h.invoices.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: toInvoiceDetailResponse(detail)})
}

func (h *HTTPHandler) BillBarrel(c *gin.Context) {
	var req BillBarrelHTTPRequest
	if !h.bind(c, &req) {
		return
	}

	line, err := h.billing.BillBarrel(c.Request.Context(), service.BillRequest{
		RequestID:   req.RequestID,
		InvoiceID:   c.Param("id"),
		BarrelID:    req.BarrelID,
		Liters:      req.Liters,
		UnitPrice:   req.UnitPrice,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DataResponse{Success: true, Data: toLineResponse(*line)})
}

func (h *HTTPHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Code:    domain.CodeInvalidInput,
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (h *HTTPHandler) badQuery(c *gin.Context, field, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:    domain.CodeInvalidInput,
		Message: field + " " + message,
		Field:   field,
	})
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	code, mapping := classify(err)
	if code == codeInternal {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
	}

	resp := ErrorResponse{Code: code, Message: publicMessage(code, err)}
	resp.Field, resp.Details = validationDetail(err)
	c.AbortWithStatusJSON(mapping.http, resp)
}
