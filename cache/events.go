package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"VoiceFM/model"
)

const (
	eventsChannel = "voice:%s:events"      // Pub/Sub: model.Event JSON
	nowPlayingKey = "voice:%s:now_playing" // Hash: 当前曲目
	nowPlayingTTL = 24 * time.Hour
)

// NowPlaying 当前播放信息
type NowPlaying struct {
	TrackID   string    `json:"trackId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album"`
	Duration  float64   `json:"duration"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

// EventPublisher 将会话事件发布到 Redis，并维护当前播放哈希
type EventPublisher struct {
	client *redis.Client
}

// NewEventPublisher 创建事件发布器，client 为空时使用全局客户端
func NewEventPublisher(client *redis.Client) *EventPublisher {
	if client == nil {
		client = RedisClient
	}
	return &EventPublisher{client: client}
}

// EventsChannel 频道事件的 Pub/Sub 名称
func EventsChannel(channelID string) string {
	return fmt.Sprintf(eventsChannel, channelID)
}

// NowPlayingKey 当前播放的 Redis 键
func NowPlayingKey(channelID string) string {
	return fmt.Sprintf(nowPlayingKey, channelID)
}

// Notify implements stream.Notifier.
func (p *EventPublisher) Notify(ctx context.Context, ev model.Event) error {
	if p.client == nil {
		return errNoClient
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, EventsChannel(ev.ChannelID), data)
	switch ev.Kind {
	case model.EventNowPlaying:
		if ev.Track != nil {
			key := NowPlayingKey(ev.ChannelID)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, nowPlayingFields(ev))
			pipe.Expire(ctx, key, nowPlayingTTL)
		}
	case model.EventSessionStopped:
		pipe.Del(ctx, NowPlayingKey(ev.ChannelID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NowPlaying 读取频道当前播放，没有时返回 nil
func (p *EventPublisher) NowPlaying(ctx context.Context, channelID string) (*NowPlaying, error) {
	if p.client == nil {
		return nil, errNoClient
	}
	fields, err := p.client.HGetAll(ctx, NowPlayingKey(channelID)).Result()
	if err != nil {
		return nil, err
	}
	return parseNowPlaying(fields), nil
}

// Subscribe 订阅频道事件，调用方负责关闭
func (p *EventPublisher) Subscribe(ctx context.Context, channelID string) (*redis.PubSub, error) {
	if p.client == nil {
		return nil, errNoClient
	}
	sub := p.client.Subscribe(ctx, EventsChannel(channelID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

func nowPlayingFields(ev model.Event) map[string]interface{} {
	t := ev.Track
	return map[string]interface{}{
		"id":         t.ID,
		"title":      t.Title,
		"artist":     t.Artist,
		"album":      t.Album,
		"duration":   strconv.FormatFloat(t.DurationSeconds, 'f', -1, 64),
		"session":    ev.SessionID,
		"started_at": strconv.FormatInt(ev.At.Unix(), 10),
	}
}

func parseNowPlaying(fields map[string]string) *NowPlaying {
	if fields["id"] == "" {
		return nil
	}
	np := &NowPlaying{
		TrackID:   fields["id"],
		Title:     fields["title"],
		Artist:    fields["artist"],
		Album:     fields["album"],
		SessionID: fields["session"],
	}
	np.Duration, _ = strconv.ParseFloat(fields["duration"], 64)
	if ts, err := strconv.ParseInt(fields["started_at"], 10, 64); err == nil {
		np.StartedAt = time.Unix(ts, 0)
	}
	return np
}
