package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hlsrelay/logger"
	"hlsrelay/metrics"
	"hlsrelay/model"
)

var (
	// ErrCredentialRejected 上游拒绝了 client_id（401/403/429）
	ErrCredentialRejected = errors.New("upstream rejected credential")
	// ErrNotFound 上游找不到资源
	ErrNotFound = errors.New("upstream resource not found")
	// ErrBadResponse 上游返回了无法理解的内容
	ErrBadResponse = errors.New("unexpected upstream response")
	// ErrForeignLocator 定位符不在上游 API 域名下，不能带着 client_id 请求
	ErrForeignLocator = errors.New("locator is not on the upstream api host")
)

const maxResponseSize = 1 << 20

// Client 内容提供方 API 客户端
type Client struct {
	baseURL    string
	scheme     string
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewClient creates a client. ratePerSecond <= 0 disables throttling.
func NewClient(baseURL string, timeout time.Duration, ratePerSecond float64, m *metrics.Metrics) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	var scheme, host string
	if u, err := url.Parse(baseURL); err == nil {
		scheme, host = strings.ToLower(u.Scheme), strings.ToLower(u.Host)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		scheme:     scheme,
		host:       host,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		metrics:    m,
	}
}

// SetHTTPClient 替换 HTTP 客户端，测试用
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// ResolveStreamURL asks the stream endpoint at locator for the manifest URL.
// The locator must live on the API host; client_id is never sent anywhere else.
func (c *Client) ResolveStreamURL(ctx context.Context, locator, clientID string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: locator %q is not an absolute url", ErrBadResponse, locator)
	}
	if c.host == "" || !strings.EqualFold(u.Scheme, c.scheme) || !strings.EqualFold(u.Host, c.host) {
		c.metrics.UpstreamRequest("stream", "foreign")
		return "", fmt.Errorf("%w: %s://%s", ErrForeignLocator, u.Scheme, u.Host)
	}
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()

	var result struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, "stream", u.String(), &result); err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", fmt.Errorf("%w: stream response has no url", ErrBadResponse)
	}
	return result.URL, nil
}

// GetTrackInfo resolves a public track page URL into its metadata.
func (c *Client) GetTrackInfo(ctx context.Context, trackURL, clientID string) (*model.TrackInfo, error) {
	q := url.Values{}
	q.Set("url", trackURL)
	q.Set("client_id", clientID)
	endpoint := c.baseURL + "/resolve?" + q.Encode()

	var info model.TrackInfo
	if err := c.getJSON(ctx, "resolve", endpoint, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.UpstreamRequest(endpoint, metrics.ResultError)
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.UpstreamRequest(endpoint, metrics.ResultError)
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	logger.Debug("上游请求完成",
		logger.String("endpoint", endpoint),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))

	if err := classifyStatus(resp.StatusCode); err != nil {
		c.metrics.UpstreamRequest(endpoint, statusResult(err))
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.UpstreamRequest(endpoint, metrics.ResultError)
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.UpstreamRequest(endpoint, metrics.ResultError)
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	c.metrics.UpstreamRequest(endpoint, metrics.ResultOK)
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrCredentialRejected, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	default:
		return fmt.Errorf("%w: status %d", ErrBadResponse, status)
	}
}

func statusResult(err error) string {
	switch {
	case errors.Is(err, ErrCredentialRejected):
		return "rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return metrics.ResultError
	}
}
