package netease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"VoiceFM/config"
	"VoiceFM/logger"
)

var (
	// ErrNoPlayableAsset 歌曲没有可用的播放地址，通常是版权限制
	ErrNoPlayableAsset = errors.New("netease: no playable url, possibly copyright restricted")
	ErrNotFound        = errors.New("netease: not found")
)

// DefaultLevel 默认音质
const DefaultLevel = "lossless"

// Client 网易云音乐API客户端
type Client struct {
	baseURL    string
	level      string
	httpClient *http.Client
	// 音频下载不设整体超时，由 ctx 控制
	downloadClient *http.Client
}

// NewClient 创建新的API客户端
func NewClient() *Client {
	return &Client{
		baseURL: "http://localhost:3000",
		level:   DefaultLevel,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
		downloadClient: &http.Client{},
	}
}

// NewClientFromConfig 根据配置创建客户端
func NewClientFromConfig(cfg *config.Config) *Client {
	c := NewClient()
	if cfg.NeteaseAPIURL != "" {
		c.SetBaseURL(cfg.NeteaseAPIURL)
	}
	if cfg.NeteaseLevel != "" {
		c.SetLevel(cfg.NeteaseLevel)
	}
	return c
}

// SetBaseURL 设置API基础URL
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetLevel 设置获取播放地址时请求的音质
func (c *Client) SetLevel(level string) {
	c.level = level
}

// BaseURL returns the API root in use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiStatus is the envelope every NeteaseCloudMusicApi response carries.
type apiStatus struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s apiStatus) err() error {
	if s.Code == 0 || s.Code == http.StatusOK {
		return nil
	}
	msg := s.Msg
	if msg == "" {
		msg = s.Message
	}
	return fmt.Errorf("API返回错误: %s (code: %d)", msg, s.Code)
}

func (c *Client) createRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	// 设置cookie确保返回正常码率的url
	req.AddCookie(&http.Cookie{Name: "os", Value: "pc"})
	return req, nil
}

// getJSON performs a GET against the API and decodes the body into out.
// out must embed apiStatus so a non-200 code is reported as an error.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{ err() error }) error {
	req, err := c.createRequest(ctx, path, query)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("[Netease] 请求失败", logger.String("path", path), logger.ErrorField(err))
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API返回错误状态码: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return out.err()
}
