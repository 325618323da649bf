package model

import "strings"

// NeteaseAlbum 网易云音乐专辑信息
type NeteaseAlbum struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PicURL string `json:"picUrl"`
}

// NeteaseArtist 网易云音乐艺术家信息
type NeteaseArtist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NeteaseSong 网易云音乐歌曲信息
type NeteaseSong struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Artists  []NeteaseArtist `json:"artists"`
	Album    NeteaseAlbum    `json:"album"`
	Duration int             `json:"duration"` // 时长（毫秒）
}

// ArtistNames 以逗号连接艺术家名称，空名称记为未知艺术家
func (s NeteaseSong) ArtistNames() string {
	if len(s.Artists) == 0 {
		return "未知艺术家"
	}
	names := make([]string, len(s.Artists))
	for i, a := range s.Artists {
		if a.Name == "" {
			names[i] = "未知艺术家"
			continue
		}
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// NeteaseSearchResult 搜索结果
type NeteaseSearchResult struct {
	Songs []NeteaseSong `json:"songs"`
	Total int           `json:"total"`
}

// NeteasePlaylist 歌单信息
type NeteasePlaylist struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CoverURL    string `json:"coverImgUrl"`
	TrackCount  int    `json:"trackCount"`
	PlayCount   int64  `json:"playCount"`
	Creator     struct {
		Nickname string `json:"nickname"`
	} `json:"creator"`
}
