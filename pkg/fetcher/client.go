// Package fetcher 负责通过 HTTP GET 抓取网页原始内容。
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"webrag-go/internal/config"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultUserAgent    = "WebRAG/1.0"
	defaultMaxBodyBytes = 10 << 20
)

// Client 是网页抓取客户端。单次请求，不重试。
type Client struct {
	httpClient   *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewClient 创建一个新的抓取客户端实例。
func NewClient(cfg config.FetcherConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		userAgent:    ua,
		maxBodyBytes: maxBody,
	}
}

// Fetch 抓取 url 并返回响应体文本。非 200 状态码返回携带状态码的 *errs.FetchError。
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &errs.FetchError{URL: url, Err: fmt.Errorf("创建请求失败: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &errs.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &errs.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return "", &errs.FetchError{URL: url, Err: fmt.Errorf("读取响应失败: %w", err)}
	}
	if int64(len(body)) > c.maxBodyBytes {
		log.Warnf("[Fetcher] 响应体超过上限 %d 字节，已截断, url: %s", c.maxBodyBytes, url)
		body = body[:c.maxBodyBytes]
	}

	log.Infof("[Fetcher] 抓取成功, url: %s, 字节数: %d", url, len(body))
	return string(body), nil
}
