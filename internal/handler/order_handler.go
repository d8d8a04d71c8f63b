package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/service"
	"github.com/shopspring/decimal"
)

type OrderHandler struct {
	svc service.OrderService
}

func NewOrderHandler(svc service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type createOrderLine struct {
	FlowerID uint64 `json:"flowerId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type createOrderRequest struct {
	DeliveryAddress string            `json:"deliveryAddress" validate:"required"`
	BuyerContact    string            `json:"buyerContact" validate:"required"`
	Items           []createOrderLine `json:"items" validate:"required,min=1,dive"`
}

type OrderItemResponse struct {
	FlowerID  uint64 `json:"flowerId"`
	SellerUID string `json:"sellerUid"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
}

type OrderResponse struct {
	ID              uint64              `json:"id"`
	BuyerUID        string              `json:"buyerUid"`
	DeliveryAddress string              `json:"deliveryAddress"`
	BuyerContact    string              `json:"buyerContact"`
	TotalPrice      string              `json:"totalPrice"`
	SellerSubtotal  *string             `json:"sellerSubtotal,omitempty"`
	Status          string              `json:"status"`
	Paid            bool                `json:"paid"`
	PaidAt          *string             `json:"paidAt,omitempty"`
	Items           []OrderItemResponse `json:"items"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toOrderResponse(o *model.Order) OrderResponse {
	var paidAt *string
	if o.PaidAt != nil {
		val := o.PaidAt.Format(time.RFC3339)
		paidAt = &val
	}
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			FlowerID:  it.FlowerID,
			SellerUID: it.SellerUID,
			Name:      it.Name,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			LineTotal: money(it.LineTotal()),
		})
	}
	return OrderResponse{
		ID:              o.ID,
		BuyerUID:        o.BuyerUID,
		DeliveryAddress: o.DeliveryAddress,
		BuyerContact:    o.BuyerContact,
		TotalPrice:      money(o.TotalPrice),
		Status:          string(o.Status),
		Paid:            o.Paid,
		PaidAt:          paidAt,
		Items:           items,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *OrderHandler) Create(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var body createOrderRequest
	if resp := bindAndValidate(c, &body); resp != nil {
		return c.JSON(http.StatusBadRequest, resp)
	}
	lines := make([]service.CartLine, 0, len(body.Items))
	for _, l := range body.Items {
		lines = append(lines, service.CartLine{FlowerID: l.FlowerID, Quantity: l.Quantity})
	}
	o, err := h.svc.CreateOrder(c.Request().Context(), service.CreateOrderInput{
		BuyerUID:        uid,
		DeliveryAddress: body.DeliveryAddress,
		BuyerContact:    body.BuyerContact,
		Items:           lines,
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, toOrderResponse(o))
}

func (h *OrderHandler) Get(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	id, ok := parseOrderID(c)
	if !ok {
		return badOrderID(c)
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id, uid)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) ListMine(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	list, err := h.svc.GetOrdersForBuyer(c.Request().Context(), uid)
	if err != nil {
		return serviceError(c, err)
	}
	resp := make([]OrderResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toOrderResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *OrderHandler) ListSales(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	list, err := h.svc.GetOrdersForSeller(c.Request().Context(), uid)
	if err != nil {
		return serviceError(c, err)
	}
	resp := make([]OrderResponse, 0, len(list))
	for i := range list {
		r := toOrderResponse(&list[i].Order)
		subtotal := money(list[i].SellerSubtotal)
		r.SellerSubtotal = &subtotal
		resp = append(resp, r)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *OrderHandler) AdvanceStatus(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	id, ok := parseOrderID(c)
	if !ok {
		return badOrderID(c)
	}
	o, err := h.svc.AdvanceStatus(c.Request().Context(), id, service.Actor{UID: uid, Role: currentRole(c)})
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(o))
}
