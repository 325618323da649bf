// Package voice talks to the KOOK voice API: joining a channel yields the RTP
// endpoint the transport process streams to.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"VoiceFM/config"
	"VoiceFM/logger"
)

// ErrAPI wraps every non-success answer from the KOOK API.
var ErrAPI = errors.New("kook: api error")

const (
	DefaultBaseURL   = "https://www.kookapp.cn/api/v3"
	DefaultKeepAlive = 45 * time.Second
)

// flexString accepts both JSON strings and numbers; the API is not consistent.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

// StreamInfo 加入语音频道后返回的推流信息
type StreamInfo struct {
	IP        string     `json:"ip"`
	Port      flexString `json:"port"`
	RTCPMux   bool       `json:"rtcp_mux"`
	RTCPPort  flexString `json:"rtcp_port"`
	Bitrate   flexString `json:"bitrate"`
	AudioSSRC flexString `json:"audio_ssrc"`
	AudioPT   flexString `json:"audio_pt"`
}

// Target builds the RTP url the transport process pushes to.
func (s StreamInfo) Target() string {
	target := fmt.Sprintf("rtp://%s:%s?ssrc=%s&payload_type=%s", s.IP, s.Port, s.AudioSSRC, s.AudioPT)
	if !s.RTCPMux && s.RTCPPort != "" {
		target += "&rtcpport=" + string(s.RTCPPort)
	}
	return target
}

// BitrateValue returns the advertised bitrate in bits per second, 0 when unknown.
func (s StreamInfo) BitrateValue() int {
	n, _ := strconv.Atoi(string(s.Bitrate))
	return n
}

// ChannelInfo is one entry of /voice/list.
type ChannelInfo struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	KeepAlive   time.Duration
	SSRC        int
	PayloadType int
	HTTPClient  *http.Client
}

// Client KOOK 语音API客户端
type Client struct {
	baseURL    string
	token      string
	keepAlive  time.Duration
	ssrc       int
	pt         int
	httpClient *http.Client
}

// NewClient creates a client. Zero options fall back to the KOOK defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.SSRC == 0 {
		opts.SSRC = 1111
	}
	if opts.PayloadType == 0 {
		opts.PayloadType = 111
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		keepAlive:  opts.KeepAlive,
		ssrc:       opts.SSRC,
		pt:         opts.PayloadType,
		httpClient: opts.HTTPClient,
	}
}

// NewClientFromConfig 根据配置创建客户端
func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(Options{
		BaseURL:     cfg.KookAPIURL,
		Token:       cfg.KookToken,
		KeepAlive:   cfg.KookKeepAlive,
		SSRC:        cfg.AudioSSRC,
		PayloadType: cfg.AudioPT,
	})
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s 状态码 %d", ErrAPI, path, resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: %s %s (code: %d)", ErrAPI, path, env.Message, env.Code)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("解析响应数据失败: %w", err)
		}
	}
	return nil
}

// Join 加入语音频道，获取推流信息并开始发送心跳
func (c *Client) Join(ctx context.Context, channelID, password string) (*Channel, error) {
	body := map[string]any{
		"channel_id": channelID,
		"audio_ssrc": c.ssrc,
		"audio_pt":   c.pt,
		"rtcp_mux":   true,
	}
	if password != "" {
		body["password"] = password
	}

	var info StreamInfo
	if err := c.do(ctx, http.MethodPost, "/voice/join", body, &info); err != nil {
		logger.Error("[Kook] 加入语音频道失败", logger.String("channel", channelID), logger.ErrorField(err))
		return nil, err
	}
	if info.IP == "" || info.Port == "" {
		return nil, fmt.Errorf("%w: /voice/join returned no endpoint", ErrAPI)
	}
	if info.AudioSSRC == "" {
		info.AudioSSRC = flexString(strconv.Itoa(c.ssrc))
	}
	if info.AudioPT == "" {
		info.AudioPT = flexString(strconv.Itoa(c.pt))
	}

	ch := newChannel(c, channelID, info)
	logger.Info("[Kook] 成功加入语音频道，推流信息已获取",
		logger.String("channel", channelID),
		logger.String("target", ch.Target()))
	return ch, nil
}

// Leave 离开语音频道
func (c *Client) Leave(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/voice/leave", map[string]any{"channel_id": channelID}, nil)
}

// KeepAlive 发送一次心跳
func (c *Client) KeepAlive(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/voice/keep-alive", map[string]any{"channel_id": channelID}, nil)
}

// List 获取机器人加入的语音频道列表
func (c *Client) List(ctx context.Context) ([]ChannelInfo, error) {
	var data struct {
		Items []ChannelInfo `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/voice/list", nil, &data); err != nil {
		return nil, err
	}
	return data.Items, nil
}

// Channel is a joined voice channel. Its target never changes.
type Channel struct {
	client *Client
	id     string
	info   StreamInfo
	target string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func newChannel(c *Client, id string, info StreamInfo) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		client: c,
		id:     id,
		info:   info,
		target: info.Target(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ch.keepAliveLoop(ctx)
	return ch
}

// ID returns the channel id.
func (ch *Channel) ID() string { return ch.id }

// Info returns the stream endpoint reported on join.
func (ch *Channel) Info() StreamInfo { return ch.info }

// Target is the RTP url for this channel.
func (ch *Channel) Target() string { return ch.target }

// Leave stops the heartbeat and leaves the channel. Later calls return the first result.
func (ch *Channel) Leave(ctx context.Context) error {
	ch.once.Do(func() {
		ch.cancel()
		<-ch.done
		ch.err = ch.client.Leave(ctx, ch.id)
		if ch.err != nil {
			logger.Error("[Kook] 离开语音频道失败", logger.String("channel", ch.id), logger.ErrorField(ch.err))
			return
		}
		logger.Info("[Kook] 成功离开语音频道", logger.String("channel", ch.id))
	})
	return ch.err
}

func (ch *Channel) keepAliveLoop(ctx context.Context) {
	defer close(ch.done)
	ticker := time.NewTicker(ch.client.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("[Kook] 心跳任务已取消", logger.String("channel", ch.id))
			return
		case <-ticker.C:
			if err := ch.client.KeepAlive(ctx, ch.id); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("[Kook] 发送心跳包失败", logger.String("channel", ch.id), logger.ErrorField(err))
				continue
			}
			logger.Debug("[Kook] 发送心跳包成功", logger.String("channel", ch.id))
		}
	}
}
