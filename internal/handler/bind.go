package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// bindRequest fills req from the query string and, when present, the JSON
// body, then applies `default` tags and `validate` rules.
func bindRequest(c *gin.Context, req any) error {
	if err := c.ShouldBindWith(req, binding.Query); err != nil {
		return err
	}
	if hasJSONBody(c) {
		// A chunked body can still turn out to be empty.
		if err := c.ShouldBindWith(req, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	if err := defaults.Set(req); err != nil {
		return err
	}
	return validate.StructCtx(c.Request.Context(), req)
}

// hasJSONBody reports whether the request may carry a JSON body. Chunked
// bodies have an unknown length; an empty content type is read as JSON.
func hasJSONBody(c *gin.Context) bool {
	body := c.Request.Body
	if body == nil || body == http.NoBody || c.Request.ContentLength == 0 {
		return false
	}
	ct := c.ContentType()
	return ct == "" || ct == binding.MIMEJSON
}

type fieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func validationErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	out := make([]fieldError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, fieldError{
			Field:   e.Field(),
			Code:    "ERR_" + strings.ToUpper(e.Tag()),
			Message: fieldMessage(e),
		})
	}
	return out
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Field(), strings.ReplaceAll(e.Param(), " ", ", "))
	case "gt", "gte":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "lt", "lte":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s failed %s", e.Field(), e.Tag())
	}
}
