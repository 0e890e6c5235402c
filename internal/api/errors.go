package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/internal/logging"
)

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.With("route", c.FullPath()).Error("request failed", "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperr.CodeOf(err)})
}

// bindError turns a binding failure into a validation error. Address and
// share failures get their own codes.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "eth_addr" {
				fail(c, apperr.InvalidAddress(fmt.Sprint(fe.Value())))
				return
			}
			if fe.StructField() == "Share" {
				share, _ := fe.Value().(int)
				fail(c, apperr.InvalidShare(share))
				return
			}
		}
	}
	fail(c, apperr.InvalidInput("%v", err))
}

// reply writes body with 200, or 202 when the primary write succeeded but
// a follow-up write is pending. Any other error fails the request.
func reply(c *gin.Context, body gin.H, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, body)
	case apperr.IsPartial(err):
		body["pending"] = err.Error()
		c.JSON(http.StatusAccepted, body)
	default:
		fail(c, err)
	}
}
