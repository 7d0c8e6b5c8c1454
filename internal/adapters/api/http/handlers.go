package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/username/branchtalk/internal/adapters/delivery"
	"github.com/username/branchtalk/internal/domain/metrics"
	"github.com/username/branchtalk/internal/domain/ports"
	"github.com/username/branchtalk/internal/domain/services"
	"github.com/username/branchtalk/internal/pkg/constants"
	"github.com/username/branchtalk/internal/pkg/httputil"
)

// APIHandlers contains all HTTP API handlers
type APIHandlers struct {
	chat      *services.ChatService
	hub       *delivery.SessionHub
	storage   ports.StoragePort
	messaging ports.MessagingPort
	collector *metrics.Collector
	logger    zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(chat *services.ChatService, hub *delivery.SessionHub, storage ports.StoragePort, messaging ports.MessagingPort, collector *metrics.Collector, logger zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		chat:      chat,
		hub:       hub,
		storage:   storage,
		messaging: messaging,
		collector: collector,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// SetupRoutes configures all API routes
func (h *APIHandlers) SetupRoutes(r *gin.Engine) {
	r.Use(httputil.CORS(httputil.DefaultCORS))

	r.GET("/health", h.handleHealth)

	chat := r.Group("/api/" + constants.APIVersion + "/chat")
	chat.Use(IdentityMiddleware())
	{
		// Event delivery
		chat.GET("/stream", h.handleStream)
		chat.GET("/ws", h.handleWebSocket)
		chat.POST("/pong", h.handlePong)

		// Conversation turns
		chat.POST("/messages", h.postMessage)
		chat.POST("/messages/regenerate", h.regenerate)
		chat.POST("/switch-branch", h.switchBranch)
		chat.POST("/stop-streaming", h.stopStreaming)

		// Conversation management
		chat.GET("/history", h.history)
		chat.GET("/sessions/list", h.listConversations)
		chat.POST("/rename", h.rename)
	}

	system := r.Group("/api/" + constants.APIVersion + "/system")
	{
		system.GET("/metrics", h.systemMetrics)
	}
}

// handleHealth reports service and dependency status
func (h *APIHandlers) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":    constants.StatusOK,
		"timestamp": time.Now().Unix(),
		"service":   constants.ServiceName,
		"version":   constants.ServiceVersion,
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.HealthCheckTimeout)
	defer cancel()

	healthy := true

	if err := h.storage.Ping(ctx); err != nil {
		status["storage"] = "error"
		status["storage_error"] = err.Error()
		healthy = false
	} else {
		status["storage"] = constants.StatusOK
	}

	if err := h.messaging.Ping(); err != nil {
		status["messaging"] = "error"
		status["messaging_error"] = err.Error()
		healthy = false
	} else {
		status["messaging"] = constants.StatusOK
	}

	status["delivery"] = h.hub.Stats()

	if !healthy {
		status["status"] = constants.StatusServiceUnavailable
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleStream opens a server-sent-events connection and keeps the request
// alive until the delivery loop finishes or the client goes away
func (h *APIHandlers) handleStream(c *gin.Context) {
	principal := currentPrincipal(c)

	sessionKey, err := h.chat.SessionKey(c.Request.Context(), principal)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set(constants.HeaderContentType, constants.ContentTypeEventStream)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	transport, err := newSSETransport(c.Writer)
	if err != nil {
		h.logger.Error().Err(err).Msg("SSE not supported by writer")
		return
	}

	conn := h.hub.Register(sessionKey, transport)

	select {
	case <-c.Request.Context().Done():
		conn.Close()
		<-conn.Done()
	case <-conn.Done():
	}
}

// handleWebSocket upgrades the request and bridges the socket into the
// delivery hub
func (h *APIHandlers) handleWebSocket(c *gin.Context) {
	principal := currentPrincipal(c)

	sessionKey, err := h.chat.SessionKey(c.Request.Context(), principal)
	if err != nil {
		respondError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := h.hub.Register(sessionKey, newWSTransport(ws))

	go readPump(ws, conn, func() { h.hub.Pong(sessionKey) })

	<-conn.Done()
}

// handlePong refreshes the liveness deadline of the caller's session
// connections. Pongs arrive out-of-band because an SSE client cannot answer
// on the stream itself.
func (h *APIHandlers) handlePong(c *gin.Context) {
	principal := currentPrincipal(c)

	sessionKey, err := h.chat.SessionKey(c.Request.Context(), principal)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.Pong(sessionKey)
	httputil.SuccessResponse(c, gin.H{"status": constants.StatusOK})
}

func (h *APIHandlers) postMessage(c *gin.Context) {
	var req services.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ack, err := h.chat.PostMessage(c.Request.Context(), currentPrincipal(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, ack)
}

type messageTargetRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

func (h *APIHandlers) regenerate(c *gin.Context) {
	var req messageTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ack, err := h.chat.Regenerate(c.Request.Context(), currentPrincipal(c), req.ChatID, req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, ack)
}

func (h *APIHandlers) switchBranch(c *gin.Context) {
	var req messageTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	branch, err := h.chat.SwitchBranch(c.Request.Context(), currentPrincipal(c), req.ChatID, req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, gin.H{"chatId": req.ChatID, "messages": branch})
}

func (h *APIHandlers) stopStreaming(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	if err := h.chat.StopGeneration(c.Request.Context(), currentPrincipal(c), req.ChatID); err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, gin.H{"status": constants.StatusOK})
}

func (h *APIHandlers) history(c *gin.Context) {
	chatID, err := httputil.RequiredQuery(c, "chatId")
	if err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	branch, err := h.chat.History(c.Request.Context(), currentPrincipal(c), chatID)
	if err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, gin.H{"chatId": chatID, "messages": branch})
}

func (h *APIHandlers) listConversations(c *gin.Context) {
	limit := httputil.IntQuery(c, "limit", constants.DefaultQueryLimit, 1, constants.MaxQueryLimit)

	conversations, err := h.chat.ListConversations(c.Request.Context(), currentPrincipal(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, gin.H{"conversations": conversations})
}

func (h *APIHandlers) rename(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId"`
		Title  string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	conv, err := h.chat.Rename(c.Request.Context(), currentPrincipal(c), req.ChatID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}

	httputil.SuccessResponse(c, conv)
}

func (h *APIHandlers) systemMetrics(c *gin.Context) {
	httputil.SuccessResponse(c, gin.H{
		"generations": h.collector.Snapshot(),
		"uptime_sec":  int64(h.collector.Uptime().Seconds()),
		"delivery":    h.hub.Stats(),
	})
}
