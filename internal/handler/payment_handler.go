package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/flora-backend/internal/service"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	svc    service.PaymentService
	orders service.OrderService
	poller *service.PaymentPoller
	log    *zap.Logger
}

func NewPaymentHandler(svc service.PaymentService, orders service.OrderService, poller *service.PaymentPoller, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{svc: svc, orders: orders, poller: poller, log: log}
}

// participantOrderID resolves :id and checks the caller may see that order.
// On failure the error response has already been written and ok is false.
func (h *PaymentHandler) participantOrderID(c echo.Context) (id uint64, ok bool, err error) {
	uid := currentUID(c)
	if uid == "" {
		return 0, false, unauthorized(c)
	}
	id, ok = parseOrderID(c)
	if !ok {
		return 0, false, badOrderID(c)
	}
	if _, err := h.orders.GetOrder(c.Request().Context(), id, uid); err != nil {
		return 0, false, serviceError(c, err)
	}
	return id, true, nil
}

// Initiate starts a hosted checkout for the caller's order.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	id, ok := parseOrderID(c)
	if !ok {
		return badOrderID(c)
	}
	sess, err := h.svc.InitiatePayment(c.Request().Context(), id, uid)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// Check reconciles once with the provider and reports the result.
func (h *PaymentHandler) Check(c echo.Context) error {
	id, ok, err := h.participantOrderID(c)
	if !ok {
		return err
	}
	res, err := h.svc.ReconcileStatus(c.Request().Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Await polls the provider until the payment settles. Running out of attempts
// answers 202 so the client shows "still pending" rather than a failure.
func (h *PaymentHandler) Await(c echo.Context) error {
	id, ok, err := h.participantOrderID(c)
	if !ok {
		return err
	}
	res, err := h.poller.Await(c.Request().Context(), id)
	if errors.Is(err, service.ErrPaymentTimeout) {
		body := map[string]interface{}{
			"orderId": id,
			"paid":    false,
			"status":  "pending",
			"message": "payment is still pending; it will be confirmed once the provider reports it",
		}
		if res != nil {
			body["status"] = res.Status
		}
		return c.JSON(http.StatusAccepted, body)
	}
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type ipnRequest struct {
	OrderTrackingID        string `json:"OrderTrackingId" query:"OrderTrackingId"`
	OrderMerchantReference string `json:"OrderMerchantReference" query:"OrderMerchantReference"`
	OrderNotificationType  string `json:"OrderNotificationType" query:"OrderNotificationType"`
}

// IPN receives Pesapal instant payment notifications. The request only names
// the payment; its outcome is always fetched from Pesapal.
func (h *PaymentHandler) IPN(c echo.Context) error {
	var body ipnRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid notification"))
	}
	if body.OrderTrackingID == "" {
		body.OrderTrackingID = c.QueryParam("OrderTrackingId")
	}
	if body.OrderMerchantReference == "" {
		body.OrderMerchantReference = c.QueryParam("OrderMerchantReference")
	}

	ack := map[string]interface{}{
		"orderNotificationType":  body.OrderNotificationType,
		"orderTrackingId":        body.OrderTrackingID,
		"orderMerchantReference": body.OrderMerchantReference,
		"status":                 200,
	}
	res, err := h.svc.HandleCallback(c.Request().Context(), service.Callback{
		ProviderReference: body.OrderTrackingID,
		MerchantReference: body.OrderMerchantReference,
	})
	if err != nil {
		h.log.Warn("payment notification not reconciled",
			zap.String("order_tracking_id", body.OrderTrackingID),
			zap.String("merchant_reference", body.OrderMerchantReference),
			zap.Error(err))
		ack["status"] = 500
		switch {
		case errors.Is(err, service.ErrValidation):
			return c.JSON(http.StatusBadRequest, ack)
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, ack)
		default:
			return c.JSON(http.StatusOK, ack)
		}
	}
	h.log.Info("payment notification reconciled",
		zap.Uint64("order_id", res.OrderID),
		zap.Bool("paid", res.Paid),
		zap.String("status", string(res.Status)))
	return c.JSON(http.StatusOK, ack)
}
