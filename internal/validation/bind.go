package validation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

const (
	msgInvalidBody  = "Invalid request body"
	msgInvalidInput = "Validation failed"
	msgNoItems      = "No items in checkout"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": msgInvalidBody,
			"fields":  map[string]string{"body": err.Error()},
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		fields := validationErrorsToMap(err)
		c.JSON(http.StatusBadRequest, gin.H{
			"message": messageFor(err),
			"fields":  fields,
		})
		return err
	}
	return nil
}

// messageFor picks the top-level message. Empty checkoutItems keeps the
// storefront's established wording.
func messageFor(err error) string {
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if fe.Field() == "CheckoutItems" && (fe.Tag() == "required" || fe.Tag() == "min") {
				return msgNoItems
			}
		}
	}
	return msgInvalidInput
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fieldPath(fe)] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}

// fieldPath drops the request type prefix: "CreateCheckoutRequest.TotalPrice"
// becomes "TotalPrice".
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
