package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/flora-backend/internal/service"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// RequestValidator plugs go-playground/validator into echo's c.Validate.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: validator.New()}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// bindAndValidate returns the 400 body to send, or nil when dst is usable.
func bindAndValidate(c echo.Context, dst interface{}) *ErrorResponse {
	if err := c.Bind(dst); err != nil {
		resp := NewErrorResponse("bad_request", "invalid body")
		return &resp
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			resp := NewErrorResponse("validation_error", verrs[0].Field()+" failed "+verrs[0].Tag()+" validation")
			resp.Error.Field = verrs[0].Field()
			return &resp
		}
		resp := NewErrorResponse("validation_error", err.Error())
		return &resp
	}
	return nil
}

func currentUID(c echo.Context) string {
	uid, _ := c.Get("uid").(string)
	return uid
}

func currentRole(c echo.Context) string {
	role, _ := c.Get("role").(string)
	return role
}

func parseOrderID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func badOrderID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid order id"))
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
}

// serviceError maps a service error to its HTTP status and error code.
func serviceError(c echo.Context, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		resp := NewErrorResponse("validation_error", verr.Error())
		resp.Error.Field = verr.Field
		return c.JSON(http.StatusBadRequest, resp)
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", err.Error()))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", err.Error()))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not allowed"))
	case errors.Is(err, service.ErrAlreadyPaid):
		return c.JSON(http.StatusConflict, NewErrorResponse("already_paid", "order already paid"))
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, NewErrorResponse("conflict", err.Error()))
	case errors.Is(err, service.ErrProvider):
		return c.JSON(http.StatusBadGateway, NewErrorResponse("provider_error", "payment provider unavailable, try again"))
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "internal error"))
	}
}
