package webapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gexflow/config"
	"gexflow/internal/feed"
	"gexflow/internal/levels"
	"gexflow/internal/upstream"
	"gexflow/logger"
)

// Server exposes the synchronous operations: feed status, an on-demand
// poll-and-persist trigger, and on-demand level computation.
type Server struct {
	cfg        config.WebConfig
	loops      map[string]*feed.Loop
	client     *upstream.Client
	attempts   int
	httpServer *http.Server
	log        *logger.Log
}

// NewServer wires the web API over the running loops. Returns nil when the
// web section is disabled.
func NewServer(cfg config.WebConfig, loops map[string]*feed.Loop, client *upstream.Client, chainAttempts int) *Server {
	if !cfg.Enabled {
		return nil
	}
	return &Server{
		cfg:      cfg,
		loops:    loops,
		client:   client,
		attempts: chainAttempts,
		log:      logger.GetLogger(),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/feeds/:feed/poll", s.handleTrigger)
	api.GET("/levels/:symbol", s.handleLevels)

	s.httpServer = &http.Server{Addr: s.cfg.Address, Handler: router}

	go func() {
		s.log.WithComponent("webapi").WithFields(logger.Fields{"address": s.cfg.Address}).Info("web API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("webapi").WithError(err).Error("web API server failed")
		}
	}()
}

// Stop shuts the server down, letting in-flight handlers finish.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithComponent("webapi").WithError(err).Warn("web API shutdown interrupted")
	}
}

type feedStatus struct {
	FeedID          string `json:"feed_id"`
	BackoffSteps    int    `json:"backoff_steps"`
	InFlight        bool   `json:"in_flight"`
	SessionKey      string `json:"session_key,omitempty"`
	LastResolvedDay string `json:"last_resolved_day,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	out := make([]feedStatus, 0, len(s.loops))
	for _, l := range s.loops {
		st := l.State()
		out = append(out, feedStatus{
			FeedID:          st.FeedID,
			BackoffSteps:    st.BackoffSteps,
			InFlight:        st.InFlight,
			SessionKey:      st.SessionKey,
			LastResolvedDay: st.LastResolvedDay,
		})
	}
	c.JSON(http.StatusOK, gin.H{"feeds": out})
}

// handleTrigger runs exactly one poll-and-persist cycle for the named feed,
// bypassing its cadence and backoff state, and reports whether the write was
// fresh or a dedup no-op.
func (s *Server) handleTrigger(c *gin.Context) {
	loop, ok := s.loops[c.Param("feed")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	rec, saved, err := loop.TriggerNow(ctx)
	if err != nil {
		status := http.StatusBadGateway
		if upstream.IsAuthFailure(err) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": rec, "saved": saved})
}

// handleLevels fetches a chain snapshot for the requested symbol and returns
// the derived levels without persisting anything.
func (s *Server) handleLevels(c *gin.Context) {
	symbol := c.Param("symbol")
	expiry := c.Query("expiry")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	snap, err := s.client.FetchChain(ctx, symbol, expiry, s.attempts)
	if err != nil {
		status := http.StatusBadGateway
		if upstream.IsAuthFailure(err) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": snap.Symbol,
		"expiry": snap.Expiry,
		"spot":   snap.Spot,
		"levels": levels.Select(snap.Rows),
	})
}
