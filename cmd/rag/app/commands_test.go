package app

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
)

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"索引未就绪", errors.ErrRAGIndexNotReady, "index not ready: Index is not ready, build the index first"},
		{"空语料", fmt.Errorf("build: %w", errors.ErrRAGEmptyCorpus), "empty corpus: No documents found, add PDF or TXT files to the documents directory"},
		{"带原因", errors.ErrRAGModelCall.WithMessage("grade failed").WithCause(fmt.Errorf("connection refused")), "model call failed: grade failed (connection refused)"},
		{"取消", context.Canceled, "cancelled: Request timeout (context canceled)"},
		{"未知错误", fmt.Errorf("boom"), "internal error: Internal server error (boom)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, describeError(tt.err), tt.want)
		})
	}
}

func TestPrintAnswer(t *testing.T) {
	var buf bytes.Buffer
	printAnswer(&buf, &model.QueryResult{
		Generation: "Flaring is limited to 24 hours.",
		Documents: []*model.Chunk{
			{Source: "reg1.pdf", Page: 3},
			{Source: "notes/reg2.txt"},
		},
	})

	assert.Equal(t, "Flaring is limited to 24 hours.\n\nSources:\n  1. reg1.pdf (page 3)\n  2. notes/reg2.txt\n", buf.String())
}

func TestPrintAnswer_NoSources(t *testing.T) {
	var buf bytes.Buffer
	printAnswer(&buf, &model.QueryResult{Generation: "x", Documents: []*model.Chunk{}})
	assert.Equal(t, "x\n", buf.String())
}
