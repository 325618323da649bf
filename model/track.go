package model

import (
	"fmt"
	"strings"
)

// Track represents a playable audio unit known to a streaming session.
// Identity is ID; LocalPath is filled once the file is on disk.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	LocalPath       string  `json:"localPath,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// LocalTrackPrefix marks tracks added from a file path rather than a catalog id.
const LocalTrackPrefix = "file:"

// DisplayName 用于通知与列表展示，缺失的字段用占位文本填充
func (t Track) DisplayName() string {
	title := t.Title
	if title == "" {
		title = "未知歌曲"
	}
	artist := t.Artist
	if artist == "" {
		artist = "未知艺术家"
	}
	return fmt.Sprintf("%s - %s", title, artist)
}

// Cached reports whether the track has been materialized on disk.
func (t Track) Cached() bool {
	return t.LocalPath != ""
}

// IsLocal reports whether the track came from a direct file path.
func (t Track) IsLocal() bool {
	return strings.HasPrefix(t.ID, LocalTrackPrefix)
}

// DownloadRequest is a pending track identified by id plus the metadata known at enqueue time.
type DownloadRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// Track converts the request into an unmaterialized track.
func (r DownloadRequest) Track() Track {
	return Track{ID: r.ID, Title: r.Title, Artist: r.Artist, Album: r.Album}
}

// RequestFor builds a download request from a known track.
func RequestFor(t Track) DownloadRequest {
	return DownloadRequest{ID: t.ID, Title: t.Title, Artist: t.Artist, Album: t.Album}
}

// PlayMode 播放模式
type PlayMode int

const (
	Sequential PlayMode = iota // 顺序播放
	Random                     // 随机播放
	SingleLoop                 // 单曲循环
	ListLoop                   // 列表循环
)

var playModeNames = map[PlayMode]string{
	Sequential: "sequential",
	Random:     "random",
	SingleLoop: "single_loop",
	ListLoop:   "list_loop",
}

var playModeLabels = map[PlayMode]string{
	Sequential: "顺序播放",
	Random:     "随机播放",
	SingleLoop: "单曲循环",
	ListLoop:   "列表循环",
}

func (m PlayMode) String() string {
	if name, ok := playModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PlayMode(%d)", int(m))
}

// Label returns the display name of the mode.
func (m PlayMode) Label() string {
	if label, ok := playModeLabels[m]; ok {
		return label
	}
	return "未知模式"
}

// Valid reports whether m is one of the known modes.
func (m PlayMode) Valid() bool {
	_, ok := playModeNames[m]
	return ok
}

// ParsePlayMode accepts the canonical names plus a few aliases.
func ParsePlayMode(s string) (PlayMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "seq", "order", "顺序":
		return Sequential, true
	case "random", "shuffle", "rand", "随机":
		return Random, true
	case "single_loop", "single", "repeat_one", "单曲":
		return SingleLoop, true
	case "list_loop", "loop", "repeat", "列表":
		return ListLoop, true
	}
	return Sequential, false
}

// MarshalText implements encoding.TextMarshaler.
func (m PlayMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid play mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PlayMode) UnmarshalText(b []byte) error {
	mode, ok := ParsePlayMode(string(b))
	if !ok {
		return fmt.Errorf("invalid play mode %q", string(b))
	}
	*m = mode
	return nil
}
