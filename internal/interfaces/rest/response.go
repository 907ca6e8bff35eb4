// Package rest exposes the platform over HTTP using gin.  Handlers stay
// thin: bind, delegate, and translate application errors to status codes.
package rest

import (
	stderrors "errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

const requestIDKey = "request_id"

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, common.APIResponse[interface{}]{
		Success:   true,
		Data:      data,
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now().UTC(),
	})
}

func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	detail := ""
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		detail = appErr.Detail
	}
	message := err.Error()
	if errors.IsServerError(code) {
		// Internals never leak driver or stack detail to clients.
		message = errors.DefaultMessageForCode(code)
		detail = ""
	}

	c.AbortWithStatusJSON(status, common.APIResponse[interface{}]{
		Success: false,
		Error: &common.ErrorDetail{
			Code:    code.String(),
			Message: message,
			Detail:  detail,
		},
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now().UTC(),
	})
}

func respondBadRequest(c *gin.Context, err error) {
	respondError(c, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body"))
}

func parsePagination(c *gin.Context) common.Pagination {
	var page common.Pagination
	if v, err := strconv.Atoi(c.Query("page")); err == nil {
		page.Page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil {
		page.PageSize = v
	}
	return page
}
