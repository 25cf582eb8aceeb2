package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hasintha01/logwatcher/internal/aggregator"
	"github.com/Hasintha01/logwatcher/internal/alertlog"
	"github.com/Hasintha01/logwatcher/internal/model"
	"github.com/Hasintha01/logwatcher/internal/sink"
	"github.com/Hasintha01/logwatcher/internal/supervisor"
)

const statusMessage = "LogWatcher Dashboard Backend is running. Connect your frontend to /api/alerts."

// AlertSource is the narrow sink contract required by the API.
type AlertSource interface {
	Since(cursor uint64) []model.AlertRecord
	Subscribe() <-chan model.AlertRecord
	Unsubscribe(<-chan model.AlertRecord)
}

// StatsSource provides aggregate alert statistics.
type StatsSource interface {
	Snapshot() aggregator.Stats
}

// FileSource reports per-file tail status.
type FileSource interface {
	Status() []supervisor.FileStatus
}

// Options wires the server to the running pipeline. Alerts is required; the
// rest are optional.
type Options struct {
	Addr        string
	Alerts      AlertSource
	Stats       StatsSource
	Files       FileSource
	Metrics     http.Handler
	EnablePprof bool
	Logger      *slog.Logger
}

// Server holds the Gin engine and dependencies for the query API.
type Server struct {
	opts      Options
	engine    *gin.Engine
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	log       *slog.Logger
}

// New creates an API server. Call Start to bind and serve.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Disable automatic redirects that cause 301 issues.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		engine:    engine,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		log:       logger,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, statusMessage)
	})

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/api/alerts", s.handleAlerts)
	s.engine.GET("/api/stats", s.handleStats)
	s.engine.GET("/ws", s.handleWebSocket)

	if s.opts.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	if s.opts.EnablePprof {
		s.engine.GET("/debug/pprof/", gin.WrapF(pprof.Index))
		s.engine.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		s.engine.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		s.engine.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		s.engine.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
		s.engine.GET("/debug/pprof/allocs", gin.WrapH(pprof.Handler("allocs")))
		s.engine.GET("/debug/pprof/heap", gin.WrapH(pprof.Handler("heap")))
		s.engine.GET("/debug/pprof/goroutine", gin.WrapH(pprof.Handler("goroutine")))
	}
}

// Start binds the listen address and serves in the background. A bind
// failure is returned synchronously.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()
	s.server = &http.Server{
		Handler:           s.engine,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server stopped", slog.Any("error", err))
		}
	}()
	s.log.Info("api server listening", slog.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop gracefully shuts down the HTTP server. Open WebSocket streams end when
// the base context is cancelled.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if s.opts.Stats != nil {
		st := s.opts.Stats.Snapshot()
		body["files_watched"] = st.FilesWatched
		body["total_alerts"] = st.TotalAlerts
		body["dropped_alerts"] = st.DroppedAlerts
	}
	c.JSON(http.StatusOK, body)
}

// handleAlerts serves accumulated alerts. ?since is the cursor returned by
// a previous call; the response cursor covers every record scanned, whether
// or not it passed the filters.
func (s *Server) handleAlerts(c *gin.Context) {
	cursor, err := parseUint(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since cursor"})
		return
	}
	filter := sink.Filter{Source: c.Query("source")}
	if v := c.Query("severity"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.MinSeverity = sev
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	records := s.opts.Alerts.Since(cursor)
	if n := len(records); n > 0 {
		cursor = records[n-1].Seq
	}
	records = filter.Apply(records)

	if c.Query("format") == "text" {
		lines := make([]string, len(records))
		for i, rec := range records {
			lines[i] = alertlog.Format(rec)
		}
		c.JSON(http.StatusOK, gin.H{"alerts": lines, "cursor": cursor})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": records, "cursor": cursor})
}

func (s *Server) handleStats(c *gin.Context) {
	body := gin.H{}
	if s.opts.Stats != nil {
		body["alerts"] = s.opts.Stats.Snapshot()
	}
	if s.opts.Files != nil {
		body["files"] = s.opts.Files.Status()
	}
	c.JSON(http.StatusOK, body)
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
