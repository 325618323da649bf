package netease

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"VoiceFM/logger"
	"VoiceFM/model"
)

// GetPlaylistDetail 获取歌单详情
func (c *Client) GetPlaylistDetail(ctx context.Context, playlistID string) (*model.NeteasePlaylist, error) {
	q := url.Values{}
	q.Set("id", playlistID)

	var result struct {
		apiStatus
		Playlist *model.NeteasePlaylist `json:"playlist"`
	}
	if err := c.getJSON(ctx, "/playlist/detail", q, &result); err != nil {
		logger.Error("[GetPlaylistDetail] 请求失败", logger.String("playlist_id", playlistID), logger.ErrorField(err))
		return nil, err
	}
	if result.Playlist == nil {
		return nil, fmt.Errorf("歌单 %s: %w", playlistID, ErrNotFound)
	}
	logger.Info("[GetPlaylistDetail] 成功获取歌单详情",
		logger.String("playlist_id", playlistID),
		logger.String("name", result.Playlist.Name))
	return result.Playlist, nil
}

// GetPlaylistTracks 获取歌单中的歌曲列表
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID string) ([]model.NeteaseSong, error) {
	q := url.Values{}
	q.Set("id", playlistID)

	var result struct {
		apiStatus
		Songs []apiSong `json:"songs"`
	}
	if err := c.getJSON(ctx, "/playlist/track/all", q, &result); err != nil {
		logger.Error("[GetPlaylistTracks] 请求失败", logger.String("playlist_id", playlistID), logger.ErrorField(err))
		return nil, err
	}
	logger.Info("[GetPlaylistTracks] 成功获取歌单歌曲",
		logger.String("playlist_id", playlistID),
		logger.Int("songs_count", len(result.Songs)))
	return toModels(result.Songs), nil
}

// PlaylistTracks expands a playlist into tracks ready to be queued for download.
// Accepts either a bare id or a share link carrying ?id=.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string) ([]model.Track, error) {
	id := ParsePlaylistID(playlistID)
	if id == "" {
		return nil, fmt.Errorf("歌单ID为空")
	}
	songs, err := c.GetPlaylistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	tracks := make([]model.Track, 0, len(songs))
	for _, s := range songs {
		if s.ID == 0 {
			continue
		}
		tracks = append(tracks, TrackFromSong(s))
	}
	return tracks, nil
}

// ParsePlaylistID extracts the playlist id from a share link or returns s trimmed.
func ParsePlaylistID(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	// 网易云分享链接把参数放在 # 之后，例如 https://music.163.com/#/playlist?id=123
	if i := strings.Index(u.Fragment, "?"); i >= 0 {
		if q, err := url.ParseQuery(u.Fragment[i+1:]); err == nil {
			return q.Get("id")
		}
	}
	return ""
}
