package netease

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"VoiceFM/logger"
	"VoiceFM/model"
)

// apiSong covers both song shapes the API returns: search results use
// artists/album/duration, detail and playlist endpoints use ar/al/dt.
type apiSong struct {
	ID       int64                 `json:"id"`
	Name     string                `json:"name"`
	Artists  []model.NeteaseArtist `json:"artists"`
	Ar       []model.NeteaseArtist `json:"ar"`
	Album    model.NeteaseAlbum    `json:"album"`
	Al       model.NeteaseAlbum    `json:"al"`
	Duration int                   `json:"duration"`
	Dt       int                   `json:"dt"`
}

func (s apiSong) toModel() model.NeteaseSong {
	out := model.NeteaseSong{ID: s.ID, Name: s.Name, Artists: s.Artists, Album: s.Album, Duration: s.Duration}
	if len(out.Artists) == 0 {
		out.Artists = s.Ar
	}
	if out.Album.ID == 0 && out.Album.Name == "" {
		out.Album = s.Al
	}
	if out.Duration == 0 {
		out.Duration = s.Dt
	}
	return out
}

func toModels(songs []apiSong) []model.NeteaseSong {
	out := make([]model.NeteaseSong, len(songs))
	for i, s := range songs {
		out[i] = s.toModel()
	}
	return out
}

// TrackFromSong 将网易云歌曲转换为播放曲目（未下载）
func TrackFromSong(s model.NeteaseSong) model.Track {
	return model.Track{
		ID:              strconv.FormatInt(s.ID, 10),
		Title:           s.Name,
		Artist:          s.ArtistNames(),
		Album:           s.Album.Name,
		DurationSeconds: float64(s.Duration) / 1000.0,
	}
}

// GetSongURL 获取歌曲URL
func (c *Client) GetSongURL(ctx context.Context, songID string) (string, error) {
	q := url.Values{}
	q.Set("id", songID)
	q.Set("level", c.level)

	var result struct {
		apiStatus
		Data []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/song/url/v1", q, &result); err != nil {
		return "", err
	}
	if len(result.Data) == 0 {
		return "", fmt.Errorf("未找到歌曲数据: %w", ErrNotFound)
	}
	if result.Data[0].URL == "" {
		logger.Warn("[GetSongURL] 歌曲URL为空，可能是版权限制", logger.String("track", songID))
		return "", ErrNoPlayableAsset
	}
	return result.Data[0].URL, nil
}

// GetSongDetail 获取歌曲详情
func (c *Client) GetSongDetail(ctx context.Context, songID string) (*model.NeteaseSong, error) {
	q := url.Values{}
	q.Set("ids", songID)

	var result struct {
		apiStatus
		Songs []apiSong `json:"songs"`
	}
	if err := c.getJSON(ctx, "/song/detail", q, &result); err != nil {
		return nil, err
	}
	if len(result.Songs) == 0 {
		return nil, fmt.Errorf("未找到歌曲 %s: %w", songID, ErrNotFound)
	}
	song := result.Songs[0].toModel()
	return &song, nil
}

// SearchSongs 搜索歌曲
func (c *Client) SearchSongs(ctx context.Context, keyword string, limit, offset int) (*model.NeteaseSearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return &model.NeteaseSearchResult{Songs: []model.NeteaseSong{}}, nil
	}
	q := url.Values{}
	q.Set("keywords", keyword)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var result struct {
		apiStatus
		Result struct {
			Songs []apiSong `json:"songs"`
			Total int       `json:"songCount"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, "/search", q, &result); err != nil {
		return nil, err
	}

	logger.Debug("[SearchSongs] 搜索完成",
		logger.String("keyword", keyword),
		logger.Int("songs", len(result.Result.Songs)))
	return &model.NeteaseSearchResult{
		Total: result.Result.Total,
		Songs: toModels(result.Result.Songs),
	}, nil
}

// Resolve looks up metadata and opens the audio stream of songID.
// The caller closes the returned body.
func (c *Client) Resolve(ctx context.Context, songID string) (*model.Track, io.ReadCloser, error) {
	track := model.Track{ID: songID}
	if detail, err := c.GetSongDetail(ctx, songID); err == nil {
		track = TrackFromSong(*detail)
	} else {
		logger.Warn("[Netease] 获取歌曲详情失败，继续下载", logger.String("track", songID), logger.ErrorField(err))
	}

	assetURL, err := c.GetSongURL(ctx, songID)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("创建下载请求失败: %w", err)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("下载请求失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("下载失败，状态码: %d", resp.StatusCode)
	}

	logger.Info("[Netease] 开始下载音频",
		logger.String("track", songID),
		logger.String("name", track.DisplayName()),
		logger.Int64("bytes", resp.ContentLength))
	return &track, resp.Body, nil
}
