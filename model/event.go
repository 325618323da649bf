package model

import "time"

// EventKind 会话事件类型
type EventKind string

const (
	EventNowPlaying     EventKind = "now_playing"     // 开始播放
	EventUpNext         EventKind = "up_next"         // 即将播放
	EventListRestart    EventKind = "list_restart"    // 列表循环重新开始
	EventFetchFailed    EventKind = "fetch_failed"    // 下载失败
	EventQueueEmpty     EventKind = "queue_empty"     // 播放列表为空，即将退出
	EventSessionStopped EventKind = "session_stopped" // 会话已结束
)

// Event is what a streaming session reports to its notifiers.
type Event struct {
	SessionID string    `json:"sessionId"`
	ChannelID string    `json:"channelId"`
	Kind      EventKind `json:"kind"`
	Track     *Track    `json:"track,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}
