package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"sitedeploy/internal/errs"
)

// statusFor maps an errs.Kind to the HTTP status the external-interfaces
// table implies for it. A wrapped gorm.ErrRecordNotFound is reported as
// 404 rather than the KindConflict lookup failures otherwise map to,
// since "no such row" and "name already taken" share a Kind in this
// taxonomy but not an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindAccess:
		return http.StatusForbidden
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindRepo, errs.KindBuild, errs.KindRuntime, errs.KindProxy:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}
