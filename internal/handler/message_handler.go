package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/service"
)

type MessageHandler struct {
	svc service.MessageService
}

func NewMessageHandler(svc service.MessageService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type postMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type MessageResponse struct {
	ID        uint64 `json:"id"`
	OrderID   uint64 `json:"orderId"`
	SenderUID string `json:"senderUid"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

func toMessageResponse(m *model.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		OrderID:   m.OrderID,
		SenderUID: m.SenderUID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *MessageHandler) List(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	id, ok := parseOrderID(c)
	if !ok {
		return badOrderID(c)
	}
	msgs, err := h.svc.ListMessages(c.Request().Context(), id, uid)
	if err != nil {
		return serviceError(c, err)
	}
	resp := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		resp = append(resp, toMessageResponse(&msgs[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *MessageHandler) Post(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	id, ok := parseOrderID(c)
	if !ok {
		return badOrderID(c)
	}
	var body postMessageRequest
	if resp := bindAndValidate(c, &body); resp != nil {
		return c.JSON(http.StatusBadRequest, resp)
	}
	msg, err := h.svc.PostMessage(c.Request().Context(), id, uid, body.Content)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, toMessageResponse(msg))
}
