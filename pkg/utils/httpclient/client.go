// Package httpclient is the HTTP transport shared by the model providers.
//
// Retries are opt-in: with maxRetries 0 a request is sent exactly once. When
// enabled, transport failures and 5xx replies are retried with a linear
// backoff and the request body is replayed on every attempt.
package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kart-io/compliance-rag/pkg/utils/json"
)

// retryBackoff 第 n 次重试前等待 n*retryBackoff。
const retryBackoff = 500 * time.Millisecond

// StatusError 服务端返回了非 2xx/3xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, e.Body)
}

// Client 带重试与链路透传的 HTTP 客户端。
type Client struct {
	httpClient *http.Client
	maxRetries int
}

// NewClient 创建客户端。timeout 作用于单次尝试，maxRetries 为额外重试次数。
func NewClient(timeout time.Duration, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// MaxRetries 返回额外重试次数。
func (c *Client) MaxRetries() int {
	return c.maxRetries
}

// DoRequest 发送请求，返回的响应状态码一定小于 500。调用方负责关闭响应体。
func (c *Client) DoRequest(req *http.Request) (*http.Response, error) {
	c.injectTraceContext(req)

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		body = b
	}

	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return nil, lastErr
}

// DoJSON 发送请求并把 JSON 响应解码到 v；v 为 nil 时丢弃响应体。
func (c *Client) DoJSON(req *http.Request, v interface{}) error {
	resp, err := c.DoRequest(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// injectTraceContext 把当前 span 以 W3C traceparent 头透传给模型服务。
func (c *Client) injectTraceContext(req *http.Request) {
	if req == nil {
		return
	}
	if propagator := otel.GetTextMapPropagator(); propagator != nil {
		propagator.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	}
}
