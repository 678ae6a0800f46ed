package botd

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/chat"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type fireRequest struct {
	Number  *float64       `json:"number"`
	Name    string         `json:"name"`
	Context map[string]any `json:"context"`
}

type chatRequest struct {
	Channel    string `json:"channel"`
	User       string `json:"user" binding:"required"`
	Text       string `json:"text" binding:"required"`
	Moderator  bool   `json:"moderator"`
	Subscriber bool   `json:"subscriber"`
}

type pushRequest struct {
	Actions []map[string]any `json:"actions"`
	Context map[string]any   `json:"context"`
}

type audioRequest struct {
	Allow *bool `json:"allow" binding:"required"`
}

type statsResponse struct {
	Running        bool       `json:"running"`
	Pending        int        `json:"pending"`
	Chains         int64      `json:"chains"`
	Fired          int64      `json:"fired"`
	Matched        int64      `json:"matched"`
	Actions        int64      `json:"actions"`
	EffectFailures int64      `json:"effect_failures"`
	LastActionAt   *time.Time `json:"last_action_at,omitempty"`
	LoadedAt       *time.Time `json:"loaded_at,omitempty"`
	Events         int        `json:"events"`
	Observers      int        `json:"observers"`
	AllowAudio     bool       `json:"allow_audio"`
}

func (d *Daemon) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(d.logger))

	router.GET("/health", d.handleHealth)
	router.GET("/ws", gin.WrapH(d.hub.Handler()))

	api := router.Group("/api")
	api.Use(d.fireLimit.Middleware())
	api.GET("/events", d.handleListEvents)
	api.POST("/events/:name", d.handleFire)
	api.POST("/actions", d.handlePush)
	api.POST("/chat", d.handleChat)
	api.GET("/audio", d.handleGetAudio)
	api.POST("/audio", d.handleSetAudio)
	api.GET("/variables", d.handleVariables)
	api.GET("/stats", d.handleStats)
	api.GET("/history", d.handleHistory)

	if d.paypal != nil {
		router.POST("/paypal/ipn", d.paypal.Handle)
	}
	return router
}

// requestLogger logs each request at a level matching its status.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = logger.Error()
		case status >= 400:
			ev = logger.Warn()
		default:
			ev = logger.Debug()
		}
		ev = ev.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("request")
	}
}

func (d *Daemon) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": d.opts.Version,
		"uptime":  time.Since(d.startedAt).Round(time.Second).String(),
	})
}

func (d *Daemon) handleListEvents(c *gin.Context) {
	snapshot := d.queue.Snapshot()
	out := make([]gin.H, 0)
	if snapshot != nil {
		for _, name := range snapshot.Names() {
			def, _ := snapshot.Lookup(name)
			out = append(out, gin.H{"name": name, "kind": def.Kind.String()})
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (d *Daemon) handleFire(c *gin.Context) {
	var req fireRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	name := c.Param("name")
	fired := d.queue.FireEvent(name, actions.FireOptions{
		Number:  req.Number,
		Name:    req.Name,
		Context: req.Context,
	})
	c.JSON(http.StatusOK, gin.H{"event": name, "fired": fired})
}

func (d *Daemon) handlePush(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	items := make([]any, 0, len(req.Actions))
	for _, a := range req.Actions {
		items = append(items, a)
	}
	def, err := eventmap.CompileDefinition(items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.queue.PushToQueue(def, req.Context); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, actions.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": len(def.Actions)})
}

func (d *Daemon) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user and text are required"})
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = chat.Channel(d.cfg.Chat.Channel)
	}
	outcome := d.parser.Handle(c.Request.Context(), chat.Message{
		Channel:    channel,
		User:       req.User,
		Text:       req.Text,
		Moderator:  req.Moderator,
		Subscriber: req.Subscriber,
	})
	c.JSON(http.StatusOK, outcome)
}

func (d *Daemon) handleGetAudio(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allow": d.queue.AllowAudio()})
}

func (d *Daemon) handleSetAudio(c *gin.Context) {
	var req audioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "allow is required"})
		return
	}
	d.queue.SetAllowAudio(*req.Allow)
	if d.journal != nil {
		if err := events.LogAudioToggled(c.Request.Context(), d.journal, *req.Allow); err != nil {
			d.logger.Warn().Err(err).Msg("failed to journal audio toggle")
		}
	}
	c.JSON(http.StatusOK, gin.H{"allow": *req.Allow})
}

func (d *Daemon) handleVariables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"variables": d.variables.All()})
}

func (d *Daemon) handleStats(c *gin.Context) {
	stats := d.queue.Stats()
	resp := statsResponse{
		Running:        stats.Running,
		Pending:        stats.Pending,
		Chains:         stats.Chains,
		Fired:          stats.Fired,
		Matched:        stats.Matched,
		Actions:        stats.Actions,
		EffectFailures: stats.EffectFailures,
		LastActionAt:   stats.LastActionAt,
		LoadedAt:       stats.LoadedAt,
		Observers:      d.hub.Count(),
		AllowAudio:     d.queue.AllowAudio(),
	}
	if snapshot := d.queue.Snapshot(); snapshot != nil {
		resp.Events = len(snapshot.Events)
	}
	c.JSON(http.StatusOK, resp)
}

func (d *Daemon) handleHistory(c *gin.Context) {
	if d.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal is disabled"})
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := d.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
