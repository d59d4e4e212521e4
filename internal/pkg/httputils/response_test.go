package httputils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/compliance-rag/pkg/utils/errors"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, target string, fn func(c *gin.Context)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.GET("/x", fn)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestWriteResponse_Success(t *testing.T) {
	w, body := serve(t, "/x", func(c *gin.Context) {
		WriteResponse(c, nil, map[string]int{"chunks": 3})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, body.Code)
	assert.JSONEq(t, `{"chunks":3}`, string(body.Data))
}

func TestWriteResponse_Errno(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", errors.ErrRAGIndexNotReady)
	w, body := serve(t, "/x", func(c *gin.Context) {
		WriteResponse(c, wrapped, nil)
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.ErrRAGIndexNotReady.Code, body.Code)
	assert.Equal(t, errors.ErrRAGIndexNotReady.MessageEN, body.Message)
}

func TestWriteResponse_Language(t *testing.T) {
	_, body := serve(t, "/x?lang=zh", func(c *gin.Context) {
		WriteResponse(c, errors.ErrRAGEmptyCorpus, nil)
	})
	assert.Equal(t, errors.ErrRAGEmptyCorpus.MessageZH, body.Message)
}

func TestWriteResponse_PlainError(t *testing.T) {
	w, body := serve(t, "/x", func(c *gin.Context) {
		WriteResponse(c, fmt.Errorf("disk on fire"), nil)
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.ErrInternal.Code, body.Code)
}
