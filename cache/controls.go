package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"VoiceFM/model"
)

const (
	controlsKey = "voice:%s:controls" // Hash: mode / volume / buffer
	controlsTTL = 7 * 24 * time.Hour

	fieldMode   = "mode"
	fieldVolume = "volume"
	fieldBuffer = "buffer"
)

// ControlCache 持久化每个频道的播放控制
type ControlCache struct {
	client *redis.Client
}

// NewControlCache 创建控制缓存，client 为空时使用全局客户端
func NewControlCache(client *redis.Client) *ControlCache {
	if client == nil {
		client = RedisClient
	}
	return &ControlCache{client: client}
}

// ControlsKey 频道控制的 Redis 键
func ControlsKey(channelID string) string {
	return fmt.Sprintf(controlsKey, channelID)
}

// LoadControls 读取频道控制，不存在时 ok 为 false
func (c *ControlCache) LoadControls(ctx context.Context, channelID string) (model.Controls, bool, error) {
	if c.client == nil {
		return model.Controls{}, false, errNoClient
	}
	fields, err := c.client.HGetAll(ctx, ControlsKey(channelID)).Result()
	if err != nil {
		return model.Controls{}, false, fmt.Errorf("failed to load controls: %w", err)
	}
	return decodeControls(fields)
}

// SaveControls 保存频道控制并刷新过期时间
func (c *ControlCache) SaveControls(ctx context.Context, channelID string, ctl model.Controls) error {
	if c.client == nil {
		return errNoClient
	}
	key := ControlsKey(channelID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, encodeControls(ctl))
	pipe.Expire(ctx, key, controlsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save controls: %w", err)
	}
	return nil
}

// Channels 列出保存过控制的频道
func (c *ControlCache) Channels(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, errNoClient
	}
	var channels []string
	iter := c.client.Scan(ctx, 0, ControlsKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if ch, ok := channelFromKey(iter.Val()); ok {
			channels = append(channels, ch)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return channels, nil
}

func encodeControls(ctl model.Controls) map[string]interface{} {
	return map[string]interface{}{
		fieldMode:   ctl.Mode.String(),
		fieldVolume: strconv.FormatFloat(ctl.Volume, 'f', -1, 64),
		fieldBuffer: strconv.Itoa(ctl.BufferSize),
	}
}

// decodeControls 解析哈希字段，空哈希视为未保存
func decodeControls(fields map[string]string) (model.Controls, bool, error) {
	if len(fields) == 0 {
		return model.Controls{}, false, nil
	}
	var ctl model.Controls

	mode, ok := model.ParsePlayMode(fields[fieldMode])
	if !ok {
		return model.Controls{}, false, fmt.Errorf("invalid stored mode %q", fields[fieldMode])
	}
	ctl.Mode = mode

	vol, err := strconv.ParseFloat(fields[fieldVolume], 64)
	if err != nil {
		return model.Controls{}, false, fmt.Errorf("invalid stored volume %q: %w", fields[fieldVolume], err)
	}
	ctl.Volume = vol

	buf, err := strconv.Atoi(fields[fieldBuffer])
	if err != nil {
		return model.Controls{}, false, fmt.Errorf("invalid stored buffer %q: %w", fields[fieldBuffer], err)
	}
	ctl.BufferSize = buf
	return ctl, true, nil
}

func channelFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "voice:")
	if !ok {
		return "", false
	}
	ch, ok := strings.CutSuffix(rest, ":controls")
	return ch, ok && ch != ""
}
