package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoiceFM/core/playlist"
	"VoiceFM/core/stream"
	"VoiceFM/model"
	"VoiceFM/storage"
)

type testPlayback struct {
	done chan struct{}
	once sync.Once
}

func (p *testPlayback) Done() <-chan struct{} { return p.done }
func (p *testPlayback) Err() error            { return nil }
func (p *testPlayback) stop()                 { p.once.Do(func() { close(p.done) }) }

type testPipeline struct {
	target string
}

func (p *testPipeline) Open(context.Context) error { return nil }
func (p *testPipeline) Target() string             { return p.target }
func (p *testPipeline) Close()                     {}

func (p *testPipeline) Start(context.Context, model.Track, float64) (stream.Playback, error) {
	return &testPlayback{done: make(chan struct{})}, nil
}

func (p *testPipeline) Stop(pb stream.Playback) {
	if tp, ok := pb.(*testPlayback); ok {
		tp.stop()
	}
}

type fakeSearcher struct {
	err     error
	limit   int
	keyword string
}

func (f *fakeSearcher) SearchSongs(_ context.Context, keyword string, limit, _ int) (*model.NeteaseSearchResult, error) {
	f.keyword, f.limit = keyword, limit
	if f.err != nil {
		return nil, f.err
	}
	return &model.NeteaseSearchResult{
		Songs: []model.NeteaseSong{{ID: 186016, Name: "晴天"}},
		Total: 1,
	}, nil
}

type fixture struct {
	t        *testing.T
	manager  *stream.Manager
	store    *storage.LocalStore
	server   *Server
	searcher *fakeSearcher
	token    string
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	manager := stream.NewManager(stream.ManagerOptions{
		Pipelines: func(_, target string) (stream.Pipeline, error) {
			return &testPipeline{target: target}, nil
		},
		Defaults: stream.Defaults{
			Volume:         0.8,
			BufferSize:     2,
			PollInterval:   10 * time.Millisecond,
			EmptyPollLimit: 100000,
			StaticTarget:   "rtp://127.0.0.1:5004",
		},
		Store: store,
	})
	t.Cleanup(func() { manager.StopAll(context.Background()) })

	searcher := &fakeSearcher{}
	f := &fixture{
		t:        t,
		manager:  manager,
		store:    store,
		searcher: searcher,
		server:   New(Options{Sessions: manager, Searcher: searcher, JWTSecret: secret}),
	}
	if secret != "" {
		f.token, err = IssueToken(secret, "tester", time.Hour)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(f.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) open(channel string) {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/sessions", map[string]string{"channel_id": channel})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]interface{}](t, rec)["status"])
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, "")

	f.open("c1")
	snap := decode[stream.SessionSnapshot](t, f.do(http.MethodGet, "/api/sessions/c1", nil))
	assert.Equal(t, "c1", snap.ChannelID)
	assert.Equal(t, "rtp://127.0.0.1:5004", snap.Target)
	assert.InDelta(t, 0.8, snap.Volume, 1e-9)

	rec := f.do(http.MethodPost, "/api/sessions", map[string]string{"channel_id": "c1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, decode[errorResponse](t, rec).Error)

	f.open("c2")
	list := decode[[]stream.SessionSnapshot](t, f.do(http.MethodGet, "/api/sessions", nil))
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ChannelID)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/sessions/c1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sessions/c1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/sessions/c1", nil).Code)
}

func TestOpenSessionValidation(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions", "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions", map[string]string{"channel_id": " "}).Code)
}

func TestTracks(t *testing.T) {
	f := newFixture(t, "")
	f.open("c1")
	_, err := f.store.Save("1", strings.NewReader("mp3"))
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/sessions/c1/tracks", model.DownloadRequest{ID: "1", Title: "晴天"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "merged", decode[map[string]string](t, rec)["result"])

	rec = f.do(http.MethodPost, "/api/sessions/c1/tracks", model.DownloadRequest{ID: "1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode[map[string]string](t, rec)["result"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/c1/tracks", model.DownloadRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/sessions/none/tracks", model.DownloadRequest{ID: "1"}).Code)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/sessions/c1/tracks/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/api/sessions/c1/tracks/x", nil).Code)

	rec = f.do(http.MethodDelete, "/api/sessions/c1/tracks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]int](t, rec), "removed")

	rec = f.do(http.MethodPost, "/api/sessions/c1/skip", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]*model.Track](t, rec), "skipped")
}

func TestAddFile(t *testing.T) {
	f := newFixture(t, "")
	f.open("c1")
	path, err := f.store.Save("song", strings.NewReader("mp3"))
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/sessions/c1/files", map[string]string{"path": path})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decode[model.Track](t, rec)
	assert.Equal(t, model.LocalTrackPrefix+path, tr.ID)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/sessions/c1/files", map[string]string{"path": path}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/sessions/c1/files", map[string]string{"path": path + ".missing"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/c1/files", map[string]string{"path": f.store.Dir()}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/c1/files", map[string]string{}).Code)
}

func TestImportWithoutSource(t *testing.T) {
	f := newFixture(t, "")
	f.open("c1")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/c1/import", map[string]string{}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/api/sessions/c1/import", map[string]string{"playlist_id": "1"}).Code)
}

func TestControls(t *testing.T) {
	f := newFixture(t, "")
	f.open("c1")

	rec := f.do(http.MethodPut, "/api/sessions/c1/mode", map[string]string{"mode": "random"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "random", decode[map[string]string](t, rec)["mode"])
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/sessions/c1/mode", map[string]string{"mode": "party"}).Code)

	rec = f.do(http.MethodPut, "/api/sessions/c1/volume", map[string]float64{"volume": 3})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2.0, decode[map[string]float64](t, rec)["volume"], 1e-9)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/sessions/c1/volume", map[string]float64{"volume": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/sessions/c1/volume", map[string]string{}).Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPut, "/api/sessions/c1/buffer", map[string]int{"size": 4}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/sessions/c1/buffer", map[string]int{"size": 0}).Code)

	snap := decode[stream.SessionSnapshot](t, f.do(http.MethodGet, "/api/sessions/c1", nil))
	assert.Equal(t, model.Random, snap.Playlist.Mode)
	assert.Equal(t, 4, snap.Playlist.BufferTarget)
	assert.InDelta(t, 2.0, snap.Volume, 1e-9)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, "")

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/search", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/search?keywords=a&limit=x", nil).Code)

	rec := f.do(http.MethodGet, "/api/search?keywords=%E6%99%B4%E5%A4%A9&limit=100", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "晴天", f.searcher.keyword)
	assert.Equal(t, 50, f.searcher.limit)
	assert.Equal(t, 1, decode[model.NeteaseSearchResult](t, rec).Total)

	f.searcher.err = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/api/search?keywords=a", nil).Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/sessions", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)

	f.token = ""
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/sessions", nil).Code)

	other, err := IssueToken("other", "x", time.Hour)
	require.NoError(t, err)
	f.token = other
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/sessions", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, "s3cret")
	f.token = ""
	rec := f.do(http.MethodOptions, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTokens(t *testing.T) {
	tok, err := IssueToken("k", "ops", time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken("k", tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, TokenIssuer, claims.Issuer)

	_, err = ParseToken("wrong", tok)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = IssueToken("", "ops", 0)
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{stream.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("remove: %w", playlist.ErrIndexOutOfRange), http.StatusNotFound},
		{stream.ErrSessionExists, http.StatusConflict},
		{playlist.ErrInvalidMode, http.StatusBadRequest},
		{stream.ErrInvalidVolume, http.StatusBadRequest},
		{playlist.ErrInvalidBufferTarget, http.StatusBadRequest},
		{badRequest("x"), http.StatusBadRequest},
		{fmt.Errorf("%w: timeout", errUpstream), http.StatusBadGateway},
		{stream.ErrNoPlaylistSource, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
