package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"trading-screener/internal/model"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// FieldError describes one invalid request parameter.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Status: status, Message: http.StatusText(status), Data: data})
}

func ok(c echo.Context, data any) error { return respond(c, http.StatusOK, data) }

// fail maps error kinds to HTTP statuses.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return respond(c, http.StatusNotFound, []FieldError{{Code: "ERR_NOT_FOUND", Message: err.Error()}})
	case errors.Is(err, model.ErrStoreUnavailable):
		return respond(c, http.StatusServiceUnavailable, []FieldError{{Code: "ERR_UNAVAILABLE", Message: err.Error()}})
	}
	return respond(c, http.StatusInternalServerError, []FieldError{{Code: "ERR_INTERNAL", Message: "something went wrong"}})
}

var validate = validator.New()

// bind reads query parameters into req, applies defaults and validates.
// A non-nil result is the list of problems to return with 400.
func bind(c echo.Context, req any) []FieldError {
	if err := c.Bind(req); err != nil {
		return []FieldError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	if err := defaults.Set(req); err != nil {
		return []FieldError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return []FieldError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
		}
		out := make([]FieldError, 0, len(ve))
		for _, fe := range ve {
			out = append(out, FieldError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fe.Error(),
			})
		}
		return out
	}
	return nil
}
