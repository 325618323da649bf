package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"VoiceFM/logger"
)

// Options configures the control API.
type Options struct {
	Addr      string
	Sessions  Sessions
	Searcher  Searcher
	Hub       *Hub
	JWTSecret string
	// ShutdownTimeout bounds graceful shutdown, including stopping sessions.
	ShutdownTimeout time.Duration
}

// Server 控制接口 HTTP 服务
type Server struct {
	opts    Options
	handler *APIHandler
	router  *mux.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{
		opts:    opts,
		handler: NewAPIHandler(opts.Sessions, opts.Searcher),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket event hub.
func (s *Server) Hub() *Hub { return s.opts.Hub }

func (s *Server) routes() {
	h := s.handler
	r := s.router
	r.Use(corsMiddleware)

	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws/events", s.opts.Hub.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if s.opts.JWTSecret != "" {
		api.Use(authMiddleware(s.opts.JWTSecret))
	}
	api.HandleFunc("/sessions", h.ListSessionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/sessions", h.OpenSessionHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{channel}", h.GetSessionHandler).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{channel}", h.CloseSessionHandler).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{channel}/tracks", h.EnqueueHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{channel}/tracks", h.ClearHandler).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{channel}/tracks/{index}", h.RemoveHandler).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{channel}/files", h.AddFileHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{channel}/import", h.ImportHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{channel}/skip", h.SkipHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{channel}/mode", h.ModeHandler).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{channel}/volume", h.VolumeHandler).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{channel}/buffer", h.BufferHandler).Methods(http.MethodPut)
	api.HandleFunc("/search", h.SearchHandler).Methods(http.MethodGet)

	// 预检请求不经过认证
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
}

// corsMiddleware 添加 CORS 头并直接响应预检请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is done, then shuts down and stops every session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go s.opts.Hub.Run()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] 控制接口启动", logger.String("addr", s.opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("[Server] 正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[Server] 强制关闭", logger.ErrorField(err))
	}
	s.opts.Sessions.StopAll(shutdownCtx)
	s.opts.Hub.Stop()
	logger.Info("[Server] 服务已停止")
	return serveErr
}
