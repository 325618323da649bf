package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"VoiceFM/core/netease"
	"VoiceFM/core/playlist"
	"VoiceFM/core/stream"
	"VoiceFM/core/voice"
	"VoiceFM/logger"
	"VoiceFM/model"
	"VoiceFM/storage"
)

// Sessions is the session surface of *stream.Manager.
type Sessions interface {
	Open(ctx context.Context, req stream.OpenRequest) (*stream.Session, error)
	Get(channelID string) (*stream.Session, error)
	List() []*stream.Session
	Close(ctx context.Context, channelID string) error
	StopAll(ctx context.Context)
}

// Searcher 曲库搜索
type Searcher interface {
	SearchSongs(ctx context.Context, keyword string, limit, offset int) (*model.NeteaseSearchResult, error)
}

// APIHandler 控制接口处理器
type APIHandler struct {
	sessions Sessions
	searcher Searcher
}

// NewAPIHandler creates the handler. searcher may be nil.
func NewAPIHandler(sessions Sessions, searcher Searcher) *APIHandler {
	return &APIHandler{sessions: sessions, searcher: searcher}
}

var errUpstream = errors.New("upstream request failed")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[API] 响应编码失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps domain errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrSessionNotFound),
		errors.Is(err, playlist.ErrIndexOutOfRange),
		errors.Is(err, netease.ErrNotFound),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrSessionExists),
		errors.Is(err, playlist.ErrDuplicateTrack):
		return http.StatusConflict
	case errors.Is(err, playlist.ErrInvalidMode),
		errors.Is(err, playlist.ErrInvalidBufferTarget),
		errors.Is(err, stream.ErrInvalidVolume),
		errors.Is(err, stream.ErrNotAFile),
		errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrNoPlaylistSource),
		errors.Is(err, stream.ErrNoFetcher):
		return http.StatusServiceUnavailable
	case errors.Is(err, netease.ErrNoPlayableAsset),
		errors.Is(err, voice.ErrAPI),
		errors.Is(err, errUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*stream.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["channel"])
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return s, true
}

// HealthHandler GET /health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(h.sessions.List()),
	})
}

// ListSessionsHandler GET /api/sessions
func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	snaps := lo.Map(h.sessions.List(), func(s *stream.Session, _ int) stream.SessionSnapshot {
		return s.Snapshot()
	})
	writeJSON(w, http.StatusOK, snaps)
}

// OpenSessionHandler POST /api/sessions
func (h *APIHandler) OpenSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req stream.OpenRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		writeErr(w, badRequest("channel_id is required"))
		return
	}
	s, err := h.sessions.Open(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// GetSessionHandler GET /api/sessions/{channel}
func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// CloseSessionHandler DELETE /api/sessions/{channel}
func (h *APIHandler) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), mux.Vars(r)["channel"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnqueueHandler POST /api/sessions/{channel}/tracks
func (h *APIHandler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req model.DownloadRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeErr(w, badRequest("id is required"))
		return
	}
	res := s.Enqueue(req)
	status := http.StatusAccepted
	if res == playlist.AddDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"result": res.String()})
}

// ClearHandler DELETE /api/sessions/{channel}/tracks
func (h *APIHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.Clear()})
}

// RemoveHandler DELETE /api/sessions/{channel}/tracks/{index}
func (h *APIHandler) RemoveHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeErr(w, badRequest("index must be a number"))
		return
	}
	t, err := s.Remove(index)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": t})
}

// AddFileHandler POST /api/sessions/{channel}/files
func (h *APIHandler) AddFileHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		writeErr(w, badRequest("path is required"))
		return
	}
	t, err := s.AddFile(r.Context(), body.Path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ImportHandler POST /api/sessions/{channel}/import
func (h *APIHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		PlaylistID string `json:"playlist_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if strings.TrimSpace(body.PlaylistID) == "" {
		writeErr(w, badRequest("playlist_id is required"))
		return
	}
	n, err := s.Import(r.Context(), body.PlaylistID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = fmt.Errorf("%w: %v", errUpstream, err)
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// SkipHandler POST /api/sessions/{channel}/skip
func (h *APIHandler) SkipHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	old, next := s.Skip()
	writeJSON(w, http.StatusOK, map[string]*model.Track{"skipped": old, "next": next})
}

// ModeHandler PUT /api/sessions/{channel}/mode
func (h *APIHandler) ModeHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	mode, valid := model.ParsePlayMode(body.Mode)
	if !valid {
		writeErr(w, fmt.Errorf("%w: %q", playlist.ErrInvalidMode, body.Mode))
		return
	}
	if err := s.SetMode(r.Context(), mode); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mode": mode, "label": mode.Label()})
}

// VolumeHandler PUT /api/sessions/{channel}/volume
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Volume == nil {
		writeErr(w, badRequest("volume is required"))
		return
	}
	applied, err := s.SetVolume(r.Context(), *body.Volume)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": applied})
}

// BufferHandler PUT /api/sessions/{channel}/buffer
func (h *APIHandler) BufferHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Size int `json:"size"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.SetBufferTarget(r.Context(), body.Size); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": body.Size})
}

// SearchHandler GET /api/search?keywords=&limit=
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	keywords := strings.TrimSpace(r.URL.Query().Get("keywords"))
	if keywords == "" {
		writeErr(w, badRequest("keywords is required"))
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, badRequest("invalid limit %q", v))
			return
		}
		limit = min(n, 50)
	}
	res, err := h.searcher.SearchSongs(r.Context(), keywords, limit, 0)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %v", errUpstream, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
