// Package httputils provides HTTP utility functions.
package httputils

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/compliance-rag/pkg/infra/middleware"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
	"github.com/kart-io/compliance-rag/pkg/utils/response"
)

// WriteResponse writes the response to the client.
// It handles both success and error cases, ensuring consistent response format.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	requestID := middleware.GetRequestID(c.Request.Context())

	if err != nil {
		_ = c.Error(err)
		resp := response.ErrWithLang(errors.FromError(err), language(c)).WithRequestID(requestID)
		c.JSON(resp.HTTPStatus(), resp)
		return
	}

	if resp, ok := data.(*response.Response); ok {
		c.JSON(resp.HTTPStatus(), resp.WithRequestID(requestID))
		return
	}

	resp := response.Success(data).WithRequestID(requestID)
	c.JSON(resp.HTTPStatus(), resp)
}

func language(c *gin.Context) string {
	if lang := c.Query("lang"); lang != "" {
		return lang
	}
	return c.GetHeader("Accept-Language")
}
